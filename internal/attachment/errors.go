package attachment

import "fmt"

// UploadError reports a failed durable upload. Fatal is set when the file
// was too large to fall back to its inline representation.
type UploadError struct {
	Name  string
	Fatal bool
	Err   error
}

func (e *UploadError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("upload %s failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("upload %s failed (kept inline): %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
