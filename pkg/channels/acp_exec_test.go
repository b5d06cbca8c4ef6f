package channels

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/parziva-1/zeroclaw/pkg/config"
)

// stubAgentScript answers the JSON-RPC bootstrap and prompt methods
// with canned responses, echoing the request id back.
const stubAgentScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  case "$line" in
    *'"initialize"'*)       printf '{"jsonrpc":"2.0","id":%s,"result":{"protocol_version":1}}\n' "$id" ;;
    *'"session/new"'*)      printf '{"jsonrpc":"2.0","id":%s,"result":{"session_id":"sess-1"}}\n' "$id" ;;
    *'"session/prompt"'*)   printf '{"jsonrpc":"2.0","id":%s,"result":{"response":"stub says hi"}}\n' "$id" ;;
  esac
done
`

// flakyAgentScript dies on the first session/prompt it ever sees and
// answers normally once respawned. The marker file survives the crash
// so the replacement process knows it is the second attempt.
const flakyAgentScript = `#!/bin/sh
marker="$(dirname "$0")/prompt-attempt"
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  case "$line" in
    *'"initialize"'*)       printf '{"jsonrpc":"2.0","id":%s,"result":{"protocol_version":1}}\n' "$id" ;;
    *'"session/new"'*)      printf '{"jsonrpc":"2.0","id":%s,"result":{"session_id":"sess-1"}}\n' "$id" ;;
    *'"session/prompt"'*)
      if [ ! -e "$marker" ]; then
        : > "$marker"
        exit 1
      fi
      printf '{"jsonrpc":"2.0","id":%s,"result":{"response":"second try ok"}}\n' "$id"
      ;;
  esac
done
`

// dyingAgentScript bootstraps fine but exits on every session/prompt.
const dyingAgentScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  case "$line" in
    *'"initialize"'*)       printf '{"jsonrpc":"2.0","id":%s,"result":{"protocol_version":1}}\n' "$id" ;;
    *'"session/new"'*)      printf '{"jsonrpc":"2.0","id":%s,"result":{"session_id":"sess-1"}}\n' "$id" ;;
    *'"session/prompt"'*)   exit 1 ;;
  esac
done
`

func writeAgentScript(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub agent needs sh")
	}
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeStubAgent(t *testing.T) string {
	t.Helper()
	return writeAgentScript(t, stubAgentScript)
}

func TestACPSendAgainstStubAgent(t *testing.T) {
	ch, err := NewACPChannel(config.ACPConfig{
		OpencodePath: writeStubAgent(t),
		AllowedUsers: []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	target := &fakeChannel{name: "napcat"}
	ch.SetResponseChannel(target)

	if err := ch.Send(context.Background(), sendMessageTo("acp", "user:42", "hello agent")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := target.sentMessages()
	if len(sent) != 1 || sent[0].Content != "stub says hi" || sent[0].Recipient != "user:42" {
		t.Errorf("forwarded = %+v", sent)
	}

	// The bootstrapped process is kept for the next send.
	if !ch.HealthCheck(context.Background()) {
		t.Error("agent process should stay checked in after a successful send")
	}

	// A second send reuses the same session without respawning.
	if err := ch.Send(context.Background(), sendMessageTo("acp", "user:42", "again")); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if len(target.sentMessages()) != 2 {
		t.Errorf("second response not forwarded")
	}
}

func TestACPSendRetriesAfterPromptFailure(t *testing.T) {
	ch, err := NewACPChannel(config.ACPConfig{
		OpencodePath: writeAgentScript(t, flakyAgentScript),
		AllowedUsers: []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	target := &fakeChannel{name: "napcat"}
	ch.SetResponseChannel(target)

	// The agent dies mid-prompt on the first attempt; the send must
	// respawn it and succeed on the second.
	if err := ch.Send(context.Background(), sendMessageTo("acp", "user:7", "try me")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := target.sentMessages()
	if len(sent) != 1 || sent[0].Content != "second try ok" {
		t.Errorf("forwarded = %+v", sent)
	}
	if !ch.HealthCheck(context.Background()) {
		t.Error("respawned process should be held after the retry")
	}
}

func TestACPSendFailsAfterTwoAttempts(t *testing.T) {
	ch, err := NewACPChannel(config.ACPConfig{
		OpencodePath: writeAgentScript(t, dyingAgentScript),
		AllowedUsers: []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Send(context.Background(), sendMessageTo("acp", "user:7", "doomed")); err == nil {
		t.Fatal("Send should fail when the agent dies on every prompt")
	}

	// The slot stays empty after the final failure so the next send
	// starts from a fresh spawn.
	ch.procMu.Lock()
	proc := ch.proc
	ch.procMu.Unlock()
	if proc != nil {
		t.Error("process slot should be empty after both attempts fail")
	}
	if ch.HealthCheck(context.Background()) {
		t.Error("health check should report no live agent")
	}
}

func TestACPSendProcessDiesMidSession(t *testing.T) {
	ch, err := NewACPChannel(config.ACPConfig{
		OpencodePath: writeStubAgent(t),
		AllowedUsers: []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Send(context.Background(), sendMessageTo("acp", "user:1", "warm up")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Kill the held process behind the channel's back; the next send
	// must detect the dead slot and respawn.
	ch.procMu.Lock()
	proc := ch.proc
	ch.procMu.Unlock()
	if proc == nil {
		t.Fatal("no process held after send")
	}
	proc.cmd.Process.Kill()
	<-proc.done

	if err := ch.Send(context.Background(), sendMessageTo("acp", "user:1", "after crash")); err != nil {
		t.Fatalf("Send after crash: %v", err)
	}
	if !ch.HealthCheck(context.Background()) {
		t.Error("respawned process should be held")
	}
}
