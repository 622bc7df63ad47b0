package provider

import (
	"fmt"
	"strings"

	"github.com/paperclip/video-orchestrator/video"
)

// Validation is the result of checking a script against a provider's
// constraints. Issues block generation; warnings do not.
type Validation struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// IncompatibleScriptError is returned when a script cannot be sent to
// the chosen provider. No remote call is made.
type IncompatibleScriptError struct {
	Provider string
	Issues   []string
}

func (e IncompatibleScriptError) Error() string {
	return fmt.Sprintf("script incompatible with provider %s: %s",
		e.Provider, strings.Join(e.Issues, "; "))
}

// longScriptWarning flags scripts over ten minutes; many back-ends cap
// well below that.
const longScriptWarning = 600.0

// ValidateScript checks a script against a provider's constraints:
// content must be present and the estimated duration must fit the
// provider's bounds. Durations are seconds throughout.
func ValidateScript(script *video.Script, caps Capabilities) Validation {
	v := Validation{}

	if strings.TrimSpace(script.Content) == "" {
		v.Issues = append(v.Issues, "script has no content")
	}
	if d := script.EstimatedDuration; d > 0 {
		if caps.MaxDuration > 0 && d > caps.MaxDuration {
			v.Issues = append(v.Issues,
				fmt.Sprintf("estimated duration %.0fs exceeds provider maximum %.0fs", d, caps.MaxDuration))
		}
		if d > longScriptWarning {
			v.Warnings = append(v.Warnings, "script duration may be too long for some providers")
		}
	}

	v.Valid = len(v.Issues) == 0
	return v
}
