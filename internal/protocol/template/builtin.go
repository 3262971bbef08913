package template

import (
	"bytes"
	_ "embed"
	"sync"
)

// Names of the messages the circuit and client rely on.
const (
	MsgStartPingCheck        = "StartPingCheck"
	MsgCompletePingCheck     = "CompletePingCheck"
	MsgPacketAck             = "PacketAck"
	MsgOpenCircuit           = "OpenCircuit"
	MsgCloseCircuit          = "CloseCircuit"
	MsgUseCircuitCode        = "UseCircuitCode"
	MsgCompleteAgentMovement = "CompleteAgentMovement"
	MsgAgentThrottle         = "AgentThrottle"
	MsgChatFromViewer        = "ChatFromViewer"
	MsgChatFromSimulator     = "ChatFromSimulator"
	MsgLogoutRequest         = "LogoutRequest"
	MsgLogoutReply           = "LogoutReply"
)

//go:embed builtin.msg
var builtinSource []byte

var (
	builtinOnce sync.Once
	builtinReg  *Registry
	builtinErr  error
)

// Builtin returns the registry of the embedded template set.
func Builtin() (*Registry, error) {
	builtinOnce.Do(func() {
		builtinReg, builtinErr = LoadReader(bytes.NewReader(builtinSource))
	})
	return builtinReg, builtinErr
}

// BuiltinSource returns a copy of the embedded template text.
func BuiltinSource() []byte {
	return append([]byte(nil), builtinSource...)
}
