package guardrail

import "strings"

// defaultSignatures are textual markers of login/MFA/CAPTCHA surfaces,
// in the UI languages the runner is pointed at (English and Spanish).
// A match halts the intent for human handoff instead of retrying.
var defaultSignatures = []string{
	"password",
	"contraseña",
	"otp",
	"2fa",
	"mfa",
	"captcha",
	"verification code",
	"código de verificación",
	"sign in to continue",
	"inicia sesión",
}

// Detector scans perception output for authentication challenges.
type Detector struct {
	signatures []string
}

// NewDetector creates a detector with the built-in signature list plus
// any configured extras.
func NewDetector(extra []string) *Detector {
	sigs := make([]string, 0, len(defaultSignatures)+len(extra))
	sigs = append(sigs, defaultSignatures...)
	for _, s := range extra {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			sigs = append(sigs, s)
		}
	}
	return &Detector{signatures: sigs}
}

// Scan checks normalized screen text and returns the first matching
// signature.
func (d *Detector) Scan(joined string) (string, bool) {
	for _, sig := range d.signatures {
		if strings.Contains(joined, sig) {
			return sig, true
		}
	}
	return "", false
}

// SensitivePayload reports whether an outgoing text payload looks like
// credential entry. Such actions are denied outright, not gated.
func (d *Detector) SensitivePayload(text string) bool {
	_, hit := d.Scan(strings.ToLower(text))
	return hit
}
