package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drfirst/go-rxguard/internal/evaluation"
	"github.com/drfirst/go-rxguard/internal/protocol"
)

type staticSource struct {
	defs []protocol.Definition
	err  error
}

func (s staticSource) Definitions(context.Context) ([]protocol.Definition, error) {
	return s.defs, s.err
}

const requestBody = `{
	"idPrescription": 7,
	"items": [
		{"id": 1, "idDrug": 10, "idSubstance": 100, "source": "drug",
		 "doseConv": 20, "frequency": 1, "measureUnit": "mg",
		 "attributes": {"maxDose": 10}},
		{"id": 2, "idDrug": 11, "idSubstance": 200, "source": "drug"}
	]
}`

func newTestServer(src evaluation.ProtocolSource) *httptest.Server {
	svc := evaluation.NewService(src, evaluation.Config{}, nil, nil)
	return httptest.NewServer(NewEvaluationHandler(svc, nil).Routes())
}

func pairProtocol() []protocol.Definition {
	return []protocol.Definition{{
		ID: 1, Name: "pair",
		Variables: []protocol.VariableDefinition{
			{Name: "a", Field: "substance", Value: "100"},
			{Name: "b", Field: "substance", Value: "200"},
		},
		Trigger: "{{a}} and {{b}}",
		Result:  map[string]interface{}{"level": "medium"},
	}}
}

func post(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp, out
}

func TestEvaluate(t *testing.T) {
	srv := newTestServer(staticSource{defs: pairProtocol()})
	defer srv.Close()

	resp, out := post(t, srv.URL+"/evaluations", requestBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %v", resp.StatusCode, out)
	}
	if out["idPrescription"].(float64) != 7 {
		t.Errorf("idPrescription = %v", out["idPrescription"])
	}
	alerts := out["alerts"].(map[string]interface{})
	if len(alerts["1"].([]interface{})) != 1 {
		t.Errorf("alerts = %v", alerts)
	}
	protocols := out["protocols"].([]interface{})
	if len(protocols) != 1 {
		t.Fatalf("protocols = %v", protocols)
	}
	match := protocols[0].(map[string]interface{})["match"].(map[string]interface{})
	if match["protocolName"] != "pair" || match["level"] != "medium" {
		t.Errorf("match = %v", match)
	}
}

func TestAlertsSkipProtocols(t *testing.T) {
	srv := newTestServer(staticSource{err: errors.New("must not be called")})
	defer srv.Close()

	resp, out := post(t, srv.URL+"/alerts", requestBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %v", resp.StatusCode, out)
	}
	if len(out["protocols"].([]interface{})) != 0 {
		t.Errorf("protocols = %v", out["protocols"])
	}
}

func TestEvaluate_Errors(t *testing.T) {
	srv := newTestServer(staticSource{err: errors.New("db down")})
	defer srv.Close()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing id", `{"items": []}`, http.StatusBadRequest},
		{"source failure", requestBody, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/evaluations", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if out["error"] == nil {
				t.Errorf("body = %v", out)
			}
		})
	}
}

func TestValidateProtocols(t *testing.T) {
	srv := newTestServer(nil)
	defer srv.Close()

	valid := `
protocols:
  - id: 1
    name: pair
    variables:
      - {name: a, field: substance, value: "100"}
    trigger: "{{a}}"
`
	resp, out := post(t, srv.URL+"/protocols/validate", valid)
	if resp.StatusCode != http.StatusOK || out["valid"].(float64) != 1 {
		t.Errorf("status = %d body %v", resp.StatusCode, out)
	}

	invalid := `[
		{"id": 1, "name": "ok", "variables": [{"name": "a", "field": "age", "operator": ">", "value": 60}], "trigger": "{{a}}"},
		{"id": 2, "name": "bad", "variables": [{"name": "a", "field": "age", "operator": "~", "value": 60}], "trigger": "{{a}}"}
	]`
	resp, out = post(t, srv.URL+"/protocols/validate", invalid)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body %v", resp.StatusCode, out)
	}
	problems := out["problems"].([]interface{})
	if out["valid"].(float64) != 1 || len(problems) != 1 {
		t.Fatalf("body = %v", out)
	}
	p := problems[0].(map[string]interface{})
	if p["protocolId"].(float64) != 2 || p["reason"] != string(protocol.ReasonOperator) {
		t.Errorf("problem = %v", p)
	}

	resp, _ = post(t, srv.URL+"/protocols/validate", `"just a string"`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestReady(t *testing.T) {
	h := Ready(map[string]Check{
		"db":    func(context.Context) error { return nil },
		"kafka": func(context.Context) error { return errors.New("unreachable") },
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
	var out map[string]string
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["db"] != "ok" || out["kafka"] != "unreachable" {
		t.Errorf("body = %v", out)
	}

	rec = httptest.NewRecorder()
	Ready(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
