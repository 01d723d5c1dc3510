package types

import "time"

// CheckSpec is the declarative form of a named check. Exactly one matcher
// group is expected per check; the executor compiles it into a predicate.
type CheckSpec struct {
	Name string `yaml:"name" json:"name"`

	Status   int   `yaml:"status,omitempty" json:"status,omitempty"`
	StatusIn []int `yaml:"status_in,omitempty" json:"status_in,omitempty"`

	BodyContains string `yaml:"body_contains,omitempty" json:"body_contains,omitempty"`
	BodyMatches  string `yaml:"body_matches,omitempty" json:"body_matches,omitempty"`

	// Header / JSONPath 选择被比较的值，Equals / Contains / Exists 决定比较方式
	Header   string `yaml:"header,omitempty" json:"header,omitempty"`
	JSONPath string `yaml:"json_path,omitempty" json:"json_path,omitempty"`
	Equals   any    `yaml:"equals,omitempty" json:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty" json:"contains,omitempty"`
	Exists   bool   `yaml:"exists,omitempty" json:"exists,omitempty"`

	MaxDuration time.Duration `yaml:"max_duration,omitempty" json:"max_duration,omitempty"`
}
