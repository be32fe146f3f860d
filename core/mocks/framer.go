// Code generated by mockery v1.0.0
package coremock

import core "github.com/yandex/funnel/core"
import mock "github.com/stretchr/testify/mock"

// Framer is an autogenerated mock type for the Framer type
type Framer struct {
	mock.Mock
}

// Frame provides a mock function with given fields: buf
func (_m *Framer) Frame(buf []byte) ([]core.Piece, error) {
	ret := _m.Called(buf)

	var r0 []core.Piece
	if rf, ok := ret.Get(0).(func([]byte) []core.Piece); ok {
		r0 = rf(buf)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]core.Piece)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func([]byte) error); ok {
		r1 = rf(buf)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}
