package bridge

import (
	"github.com/wippyai/scriptbridge"
)

// hostState is a snapshot of the flags validation depends on.
type hostState struct {
	running     bool
	networked   bool
	isHost      bool
	controlMode int32
	allowReplay bool
	leagueLen   uint64
}

// rules are checked in order; the first violated rule decides the reason.
var rules = []struct {
	reason   Reason
	violated func(hostState) bool
}{
	{ReasonNoScenario, func(s hostState) bool { return !s.running }},
	{ReasonNotHost, func(s hostState) bool { return s.networked && !s.isHost }},
	{ReasonNoScriptingInReplays, func(s hostState) bool { return s.controlMode == replayMode && !s.allowReplay }},
	{ReasonLeagueActive, func(s hostState) bool { return s.leagueLen > 0 }},
}

func readState(mem scriptbridge.Memory, b *Binding) (hostState, error) {
	var s hostState
	var err error
	if s.running, err = scriptbridge.ReadBool(mem, b.IsRunning); err != nil {
		return s, err
	}
	if s.networked, err = scriptbridge.ReadBool(mem, b.NetworkState); err != nil {
		return s, err
	}
	if s.isHost, err = scriptbridge.ReadBool(mem, b.IsHost); err != nil {
		return s, err
	}
	if s.controlMode, err = scriptbridge.ReadI32(mem, b.ControlMode); err != nil {
		return s, err
	}
	if s.allowReplay, err = scriptbridge.ReadBool(mem, b.AllowReplayScripting); err != nil {
		return s, err
	}
	if s.leagueLen, err = mem.ReadU64(b.LeagueAddress + b.StrBuf.Len); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks whether the host currently accepts scripts. It only reads
// host memory and never posts work to the host thread.
func (b *Bridge) Validate() error {
	s, err := readState(b.mem, b.binding)
	if err != nil {
		return internal("read host state", err)
	}
	for _, r := range rules {
		if r.violated(s) {
			return rejected(r.reason)
		}
	}
	return nil
}
