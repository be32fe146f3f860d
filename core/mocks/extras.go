package coremock

import (
	"fmt"
	"unsafe"
)

// Implement Stringer, so when Responder is passed as arg to another mock call,
// it not read and data races not created.
func (_m *Responder) String() string {
	return fmt.Sprintf("coremock.Responder{%v}", unsafe.Pointer(_m))
}
