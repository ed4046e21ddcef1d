package policy

// Rule is one entry in a Policy's rule list.
type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Trigger     Trigger  `yaml:"trigger"`
	Actions     []Action `yaml:"actions"`
	Regulation  string   `yaml:"regulation,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
}

// IsEnabled returns the rule's enabled flag, defaulting to true when unset.
func (r Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Policy is a named, versioned collection of rules, loaded once per tenant
// and immutable thereafter.
type Policy struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Regulation  string `yaml:"regulation,omitempty"`
	Rules       []Rule `yaml:"rules"`
}
