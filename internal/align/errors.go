package align

import "fmt"

// RegistrationError reports that a sheet could not be registered onto the
// canonical frame. It is fatal for the sheet: no partial result is produced.
type RegistrationError struct {
	Found    int      // markers detected
	Required int      // minimum markers needed
	Missing  []string // names of markers not found
	Residual float64  // mean reprojection error, when a fit was attempted
	Reason   string
}

func (e *RegistrationError) Error() string {
	if e.Residual > 0 {
		return fmt.Sprintf("registration failed: %s (residual %.2fpx)", e.Reason, e.Residual)
	}
	return fmt.Sprintf("registration failed: %s", e.Reason)
}
