// Code generated by mockery v1.0.0
package coremock

import mock "github.com/stretchr/testify/mock"

// Responder is an autogenerated mock type for the Responder type
type Responder struct {
	mock.Mock
}

// ID provides a mock function with given fields:
func (_m *Responder) ID() string {
	ret := _m.Called()

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// Write provides a mock function with given fields: p
func (_m *Responder) Write(p []byte) <-chan error {
	ret := _m.Called(p)

	var r0 <-chan error
	if rf, ok := ret.Get(0).(func([]byte) <-chan error); ok {
		r0 = rf(p)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(<-chan error)
		}
	}

	return r0
}
