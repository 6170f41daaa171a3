// Package render turns prediction outcomes into user-facing messages.
package render

import (
	"fmt"

	"dropout-risk/internal/ml"
)

// Style selects how a message is presented.
type Style string

const (
	StyleSuccess Style = "success"
	StyleError   Style = "error"
)

const (
	msgDropout     = "Prediction: Student is likely to DROP OUT."
	msgContinue    = "Prediction: Student is likely to CONTINUE."
	msgProbability = "Dropout probability: %.2f"
	msgFailure     = "Error during prediction: %v"
)

// View is the rendered form of one Outcome.
type View struct {
	Style       Style  `json:"style"`
	Message     string `json:"message"`
	Probability string `json:"probability,omitempty"`
}

// HasProbability reports whether a probability line should be shown.
func (v View) HasProbability() bool { return v.Probability != "" }

// Lines returns the view as plain text lines.
func (v View) Lines() []string {
	if v.HasProbability() {
		return []string{v.Message, v.Probability}
	}
	return []string{v.Message}
}

// Render maps an outcome to its view.
func Render(out ml.Outcome) View {
	if !out.OK() {
		return Failure(out.Err)
	}

	v := View{Style: StyleSuccess, Message: msgContinue}
	if out.Label == ml.LabelDropout {
		v = View{Style: StyleError, Message: msgDropout}
	}
	if out.Probability != nil {
		v.Probability = fmt.Sprintf(msgProbability, *out.Probability)
	}
	return v
}

// Failure renders an error raised anywhere in the prediction path.
func Failure(err error) View {
	return View{Style: StyleError, Message: fmt.Sprintf(msgFailure, err)}
}
