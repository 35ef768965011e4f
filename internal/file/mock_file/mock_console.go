// Package mock_file provides an oglemock mock for file.Console, hand-written
// in the shape createmock would generate (see gcsproxy/mock/mock_mutable_content.go
// in jacobsa's gcsfuse for the pattern this follows).
package mock_file

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/jacobsa/oglemock"
)

type MockConsole interface {
	ReadConsole(p []byte) (int, error)
	WriteConsole(p []byte) (int, error)
	oglemock.MockObject
}

type mockConsole struct {
	controller  oglemock.Controller
	description string
}

func NewMockConsole(c oglemock.Controller, desc string) MockConsole {
	return &mockConsole{
		controller:  c,
		description: desc,
	}
}

func (m *mockConsole) Oglemock_Id() uintptr {
	return uintptr(unsafe.Pointer(m))
}

func (m *mockConsole) Oglemock_Description() string {
	return m.description
}

func (m *mockConsole) ReadConsole(p0 []byte) (o0 int, o1 error) {
	_, file, line, _ := runtime.Caller(1)

	retVals := m.controller.HandleMethodCall(
		m,
		"ReadConsole",
		file,
		line,
		[]interface{}{p0})

	if len(retVals) != 2 {
		panic(fmt.Sprintf("mockConsole.ReadConsole: invalid return values: %v", retVals))
	}

	if retVals[0] != nil {
		o0 = retVals[0].(int)
	}
	if retVals[1] != nil {
		o1 = retVals[1].(error)
	}

	return
}

func (m *mockConsole) WriteConsole(p0 []byte) (o0 int, o1 error) {
	_, file, line, _ := runtime.Caller(1)

	retVals := m.controller.HandleMethodCall(
		m,
		"WriteConsole",
		file,
		line,
		[]interface{}{p0})

	if len(retVals) != 2 {
		panic(fmt.Sprintf("mockConsole.WriteConsole: invalid return values: %v", retVals))
	}

	if retVals[0] != nil {
		o0 = retVals[0].(int)
	}
	if retVals[1] != nil {
		o1 = retVals[1].(error)
	}

	return
}
