package app_test

import (
	"context"
	"testing"

	"github.com/marketlens/insightgate/app"
	"github.com/marketlens/insightgate/domain/b2b"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/quota"
)

func TestAuthenticator_Reasons(t *testing.T) {
	env := newTestEnv()
	active := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	suspended := env.addClient("cl-2", "bb", client.StatusSuspended, "standard")

	tests := []struct {
		name       string
		key        string
		wantReason string
		wantStatus int
	}{
		{"active", active, "", 0},
		{"malformed", "ig_live_short", app.ReasonMalformed, 401},
		{"unknown", rawKey("dd"), app.ReasonUnknown, 401},
		{"inactive", suspended, app.ReasonInactive, 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.auth.Authenticate(context.Background(), tt.key)

			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if tt.wantStatus == 0 {
				if res.Error != nil {
					t.Fatalf("unexpected error: %+v", res.Error)
				}
				if res.Client == nil || res.Client.ClientID != "cl-1" {
					t.Errorf("Client = %+v", res.Client)
				}
				return
			}
			if res.Error == nil || res.Error.Status != tt.wantStatus {
				t.Errorf("Error = %+v, want status %d", res.Error, tt.wantStatus)
			}
		})
	}
}

func TestAuthenticator_UnknownTier(t *testing.T) {
	env := newTestEnv()
	gold := env.addClient("cl-gold", "aa", client.StatusActive, "gold")

	// Unknown tiers fall back to the default tier.
	if res := env.auth.Authenticate(context.Background(), gold); res.Error != nil || res.Client.TierID != "standard" {
		t.Fatalf("fallback: %+v", res)
	}

	env.auth.UpdateTiers([]quota.Tier{{ID: "enterprise", RequestsPerDay: 1000}})
	res := env.auth.Authenticate(context.Background(), gold)
	if res.Reason != app.ReasonNoTier {
		t.Errorf("Reason = %q, want %q", res.Reason, app.ReasonNoTier)
	}
	if res.Error == nil || res.Error.Status != 500 {
		t.Errorf("Error = %+v, want 500", res.Error)
	}
}

func TestAuthenticator_DoesNotCount(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")

	for i := 0; i < 10; i++ {
		if res := env.auth.Authenticate(context.Background(), key); res.Error != nil {
			t.Fatalf("call %d: %+v", i, res.Error)
		}
	}
	if env.count("cl-1") != 0 {
		t.Errorf("count = %d, want 0", env.count("cl-1"))
	}
}

func TestAuthenticator_QuotaRejectionCarriesContext(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	for i := 0; i < 3; i++ {
		env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, nil))
	}

	res := env.auth.Authenticate(context.Background(), key)

	if res.Error == nil || *res.Error != b2b.ErrRateLimited {
		t.Fatalf("Error = %+v, want ErrRateLimited", res.Error)
	}
	if res.Client == nil {
		t.Fatal("Client must be set on quota rejection")
	}
	if res.Client.Used != 3 || res.Client.DailyLimit != 3 {
		t.Errorf("Client = %+v", res.Client)
	}
	if res.Reason != quota.ReasonExceeded {
		t.Errorf("Reason = %q, want %q", res.Reason, quota.ReasonExceeded)
	}
}

func TestAuthenticator_UpdateTiers(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	for i := 0; i < 3; i++ {
		env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, nil))
	}
	if res := env.auth.Authenticate(context.Background(), key); res.Error == nil {
		t.Fatal("expected quota rejection before reload")
	}

	env.auth.UpdateTiers([]quota.Tier{{ID: "standard", RequestsPerDay: 10, Default: true}})

	res := env.auth.Authenticate(context.Background(), key)
	if res.Error != nil {
		t.Fatalf("after reload: %+v", res.Error)
	}
	if res.Client.DailyLimit != 10 {
		t.Errorf("DailyLimit = %d, want 10", res.Client.DailyLimit)
	}
	if got := len(env.auth.Tiers()); got != 1 {
		t.Errorf("len(Tiers) = %d, want 1", got)
	}
}
