package policy

import "testing"

func TestHardDenyBeatsEverything(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "shell_exec", Resource: "rm -rf /", AutonomyLevel: 4})
	if v.Decision != Deny {
		t.Fatalf("got %v, want Deny", v.Decision)
	}
	if v.Policy != "hard_deny" {
		t.Fatalf("got policy %q, want hard_deny", v.Policy)
	}
}

func TestAutonomyAsksBelowThreshold(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "shell_exec", Resource: "ls -la", AutonomyLevel: 0})
	if v.Decision != AskUser {
		t.Fatalf("got %v, want AskUser", v.Decision)
	}
}

func TestShellAllowsBenignAtHighAutonomy(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "shell_exec", Resource: "ls -la", AutonomyLevel: 4})
	if v.Decision != Allow {
		t.Fatalf("got %v, want Allow", v.Decision)
	}
}

func TestShellDenyListBeatsAutonomy(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "shell_exec", Resource: "reboot", AutonomyLevel: 4})
	if v.Decision != Deny {
		t.Fatalf("got %v, want Deny", v.Decision)
	}
}

func TestShellAsksForSudoEvenAtHighAutonomy(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "shell_exec", Resource: "sudo apt install curl", AutonomyLevel: 4})
	if v.Decision != AskUser {
		t.Fatalf("got %v, want AskUser", v.Decision)
	}
}

func TestCredentialAccessAlwaysAsks(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "credential_access", Resource: "vault://anthropic_api_key", AutonomyLevel: 4})
	if v.Decision != AskUser {
		t.Fatalf("got %v, want AskUser", v.Decision)
	}
	v = e.Evaluate(Context{Action: "credential_access", Resource: "vault://anthropic_api_key", AutonomyLevel: 0})
	if v.Decision != AskUser {
		t.Fatalf("got %v, want AskUser regardless of autonomy level", v.Decision)
	}
}

func TestSensitivePathDeniedAtEveryLevel(t *testing.T) {
	e := NewEngine()
	for _, action := range []string{"file_read", "file_write", "file_delete"} {
		for level := 0; level <= 4; level++ {
			v := e.Evaluate(Context{Action: action, Resource: "/home/user/.ssh/id_rsa", AutonomyLevel: level})
			if v.Decision != Deny {
				t.Errorf("%s at level %d: got %v, want Deny", action, level, v.Decision)
			}
			if v.Policy != "hard_deny" {
				t.Errorf("%s at level %d: got policy %q, want hard_deny", action, level, v.Policy)
			}
		}
	}
}

func TestAutonomyTable(t *testing.T) {
	e := NewEngine()
	cases := []struct {
		action   string
		resource string
		level    int
		want     Decision
	}{
		{"file_read", "/home/user/workspace/a.txt", 0, AskUser},
		{"file_read", "/home/user/workspace/a.txt", 1, Allow},
		{"file_write", "/home/user/workspace/a.txt", 1, AskUser},
		{"file_write", "/home/user/workspace/a.txt", 2, Allow},
		{"shell_exec", "ls -la", 2, AskUser},
		{"shell_exec", "ls -la", 3, Allow},
		{"http_request", "https://example.com/page", 2, AskUser},
		{"http_request", "https://example.com/page", 3, Allow},
		{"file_delete", "/home/user/workspace/a.txt", 3, AskUser},
		{"file_delete", "/home/user/workspace/a.txt", 4, Allow},
		{"skill_execute", "web_search", 1, AskUser},
		{"skill_execute", "web_search", 2, Allow},
	}
	for _, tc := range cases {
		v := e.Evaluate(Context{Action: tc.action, Resource: tc.resource, AutonomyLevel: tc.level})
		if v.Decision != tc.want {
			t.Errorf("%s at level %d: got %v (policy %s), want %v", tc.action, tc.level, v.Decision, v.Policy, tc.want)
		}
	}
}

func TestFileAccessDeniesSystemPath(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "file_read", Resource: "/etc/passwd", AutonomyLevel: 4})
	if v.Decision != Deny {
		t.Fatalf("got %v, want Deny", v.Decision)
	}
	if v.Policy != "file_access" {
		t.Fatalf("got policy %q, want file_access", v.Policy)
	}
}

func TestFileAccessAllowsOrdinaryPath(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "file_read", Resource: "/home/user/workspace/a.txt", AutonomyLevel: 4})
	if v.Decision != Allow {
		t.Fatalf("got %v, want Allow", v.Decision)
	}
}

func TestNetworkBlocksMetadataEndpoint(t *testing.T) {
	e := NewEngine()
	v := e.Evaluate(Context{Action: "http_request", Resource: "http://169.254.169.254/latest/meta-data", AutonomyLevel: 4})
	if v.Decision != Deny {
		t.Fatalf("got %v, want Deny", v.Decision)
	}
}

func TestDefaultDenyWhenNoRuleMatches(t *testing.T) {
	e := NewEngineWithRules(HardDenyRule{})
	v := e.Evaluate(Context{Action: "unknown_action", Resource: "whatever", AutonomyLevel: 4})
	if v.Decision != Deny {
		t.Fatalf("got %v, want Deny (default)", v.Decision)
	}
	if v.Policy != "default_deny" {
		t.Fatalf("got policy %q, want default_deny", v.Policy)
	}
}
