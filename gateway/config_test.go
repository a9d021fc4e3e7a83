package gateway_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/n9te9/go-graphql-auth-gateway/gateway"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOption_Defaults(t *testing.T) {
	path := writeConfig(t, `
services:
  - name: users
    host: http://localhost:4001/query
`)

	opt, err := gateway.LoadOption(path)
	if err != nil {
		t.Fatalf("LoadOption failed: %v", err)
	}

	hangOver := true
	want := gateway.GatewayOption{
		Endpoint:                    "/graphql",
		Port:                        8080,
		TimeoutDuration:             "5s",
		EnableHangOverRequestHeader: &hangOver,
		Services:                    []gateway.GatewayService{{Name: "users", Host: "http://localhost:4001/query"}},
		Retry:                       gateway.RetryOption{Attempts: 3, Timeout: "5s"},
		Authorization: gateway.AuthorizationSetting{
			Directive:     "auth",
			RoleHeader:    "x-user",
			RoleSeparator: ",",
			RoleArgument:  "requires",
		},
		Log:     gateway.LogSetting{Level: "info", Format: "json"},
		Metrics: gateway.MetricsSetting{Path: "/metrics"},
	}
	if diff := cmp.Diff(want, opt); diff != "" {
		t.Errorf("option mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOption_Overrides(t *testing.T) {
	path := writeConfig(t, `
endpoint: /query
port: 9000
enable_hang_over_request_header: false
services:
  - name: users
    host: http://users
    timeout: 2s
authorization:
  directive: requiresRole
  role_header: x-roles
  default_role: ADMIN
`)

	opt, err := gateway.LoadOption(path)
	if err != nil {
		t.Fatalf("LoadOption failed: %v", err)
	}
	if opt.Endpoint != "/query" || opt.Port != 9000 {
		t.Errorf("endpoint/port = %s/%d", opt.Endpoint, opt.Port)
	}
	if *opt.EnableHangOverRequestHeader {
		t.Error("enable_hang_over_request_header must stay false")
	}
	if opt.Authorization.Directive != "requiresRole" || opt.Authorization.RoleHeader != "x-roles" {
		t.Errorf("authorization = %+v", opt.Authorization)
	}
	if opt.Services[0].Timeout != "2s" {
		t.Errorf("service timeout = %q", opt.Services[0].Timeout)
	}
}

func TestLoadOption_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "invalid yaml", src: "services: ["},
		{name: "no services", src: "port: 8080"},
		{name: "unnamed service", src: "services:\n  - host: http://users\n"},
		{name: "duplicate service", src: "services:\n  - name: a\n    host: http://a\n  - name: a\n    host: http://b\n"},
		{name: "invalid timeout", src: "services:\n  - name: a\n    host: http://a\n    timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gateway.LoadOption(writeConfig(t, tt.src)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := gateway.LoadOption(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestDefaultOption_RoundTrip(t *testing.T) {
	b, err := gateway.DefaultOption().Marshal()
	if err != nil {
		t.Fatal(err)
	}

	opt, err := gateway.LoadOption(writeConfig(t, string(b)))
	if err != nil {
		t.Fatalf("marshalled default does not load: %v", err)
	}
	if diff := cmp.Diff(gateway.DefaultOption(), opt, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := gateway.NewLogger(gateway.LogSetting{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level must be enabled")
	}

	if _, err := gateway.NewLogger(gateway.LogSetting{Level: "loud"}); err == nil {
		t.Error("expected error for an unknown level")
	}
}
