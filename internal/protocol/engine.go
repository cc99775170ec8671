package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drfirst/go-rxguard/internal/domain/prescription"
)

// Variable is a compiled protocol variable
type Variable struct {
	Name    string
	Field   Field
	Message *MessageDefinition
}

// Protocol is a compiled, evaluable protocol
type Protocol struct {
	ID        int64
	Name      string
	Variables []Variable
	Trigger   string
	Result    map[string]interface{}
}

// Compile validates a definition and builds its field variants. The trigger
// must reference only declared variables and parse once rendered.
func Compile(def Definition) (*Protocol, error) {
	p := &Protocol{
		ID:      def.ID,
		Name:    def.Name,
		Trigger: def.Trigger,
		Result:  def.Result,
	}
	if def.DecodeErr != nil {
		return nil, p.wrap("", configErr(ReasonDecode, "%v", def.DecodeErr))
	}
	declared := make(map[string]bool, len(def.Variables))
	for _, v := range def.Variables {
		field, err := compileField(v)
		if err != nil {
			return nil, p.wrap(v.Name, err)
		}
		p.Variables = append(p.Variables, Variable{Name: v.Name, Field: field, Message: v.Message})
		declared[v.Name] = false
	}
	for _, name := range placeholders(def.Trigger) {
		if _, ok := declared[name]; !ok {
			return nil, p.wrap("", configErr(ReasonTrigger, "trigger references undeclared variable %q", name))
		}
	}
	if _, err := ParseExpression(RenderTrigger(def.Trigger, declared)); err != nil {
		return nil, p.wrap("", err)
	}
	return p, nil
}

func (p *Protocol) label() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", p.ID)
}

func (p *Protocol) wrap(variable string, err error) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		out := *cfgErr
		out.Protocol = p.label()
		if out.Variable == "" {
			out.Variable = variable
		}
		return &out
	}
	return fmt.Errorf("protocol %q: %w", p.label(), err)
}

// Match is the outcome of a protocol whose trigger held
type Match struct {
	ProtocolID       int64
	ProtocolName     string
	Result           map[string]interface{}
	VariableMessages []string
	RelatedItems     []int64
}

// MarshalJSON merges the result payload with the messages and related items.
// Keys stored in the result take precedence over protocolId and protocolName.
func (m *Match) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Result)+4)
	out["protocolId"] = m.ProtocolID
	out["protocolName"] = m.ProtocolName
	for k, v := range m.Result {
		out[k] = v
	}
	msgs := m.VariableMessages
	if msgs == nil {
		msgs = []string{}
	}
	related := m.RelatedItems
	if related == nil {
		related = []int64{}
	}
	out["variableMessages"] = msgs
	out["relatedItems"] = related
	return json.Marshal(out)
}

// Evaluate resolves every variable of p against c, collecting variable
// messages in declaration order, then evaluates the trigger. It returns nil
// when the trigger does not hold.
func Evaluate(c *Context, p *Protocol) (*Match, error) {
	values := make(map[string]bool, len(p.Variables))
	var messages []string
	for _, v := range p.Variables {
		resolved, err := c.Resolve(v.Field)
		if err != nil {
			return nil, p.wrap(v.Name, err)
		}
		values[v.Name] = resolved
		if v.Message != nil && v.Message.If == resolved && v.Message.Value != "" {
			messages = append(messages, v.Message.Value)
		}
	}

	ok, err := EvaluateTrigger(p.Trigger, values)
	if err != nil {
		return nil, p.wrap("", err)
	}
	if !ok {
		return nil, nil
	}

	result := make(map[string]interface{}, len(p.Result))
	for k, v := range p.Result {
		result[k] = v
	}
	return &Match{
		ProtocolID:       p.ID,
		ProtocolName:     p.Name,
		Result:           result,
		VariableMessages: messages,
		RelatedItems:     c.RelatedItems(),
	}, nil
}

// Outcome is the result of one protocol over one date group
type Outcome struct {
	Protocol *Protocol
	Group    string
	Match    *Match
	Err      error
}

// Group is a set of items evaluated together
type Group struct {
	Date  string
	Items []*prescription.Item
}

// Groups partitions items by expiry date when the header is an aggregated,
// non-CPOE record. Otherwise every item forms a single group.
func Groups(header *prescription.Header, items []*prescription.Item) []Group {
	if !header.GroupsByDate() {
		return []Group{{Items: items}}
	}
	keys, byDate := prescription.GroupByExpireDate(items)
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, Group{Date: k, Items: byDate[k]})
	}
	if len(groups) == 0 {
		groups = append(groups, Group{})
	}
	return groups
}

// EvaluateAll evaluates every protocol once per date group. Only items
// visible to protocols form groups, so suspended items never open one.
// Protocols in the same group share one context. Errors are reported per
// outcome and never stop sibling protocols.
func EvaluateAll(in ContextInput, protocols []*Protocol) []Outcome {
	items := prescription.Filter(in.Items, prescription.ProtocolSources...)
	var out []Outcome
	for _, g := range Groups(in.Header, items) {
		gin := in
		gin.Items = g.Items
		c := NewContext(gin)
		for _, p := range protocols {
			m, err := Evaluate(c, p)
			out = append(out, Outcome{Protocol: p, Group: g.Date, Match: m, Err: err})
		}
	}
	return out
}
