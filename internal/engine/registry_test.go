package engine_test

import (
	"errors"
	"testing"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/payments"
	"atelier/internal/repo"
)

func TestCreateArtisanDefaults(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateArtisan(env.Ctx, engine.ArtisanCreateOptions{UserID: "u1", BusinessName: "Forge"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" || a.Status != domain.ArtisanInactive || a.KYCStatus != domain.KYCPending {
		t.Fatalf("unexpected artisan %+v", a)
	}
	if a.MaxVolume != 10 || a.AverageLeadTime != 7 || a.ServiceTier != domain.TierStandard || a.PayoutSchedule != domain.ScheduleWeekly {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if a.Reputation.QualityScore != 5 || a.Reputation.OnTimeDeliveryRate != 1 || a.Reputation.TotalOrders != 0 {
		t.Fatalf("unexpected starting reputation %+v", a.Reputation)
	}
	_, err = env.Engine.CreateArtisan(env.Ctx, engine.ArtisanCreateOptions{UserID: "u1", BusinessName: "Again"})
	mustKind(t, err, engine.KindConflict)
	_, err = env.Engine.CreateArtisan(env.Ctx, engine.ArtisanCreateOptions{UserID: "u2", BusinessName: "Tiered", ServiceTier: "platinum"})
	mustKind(t, err, engine.KindValidation)
	_, err = env.Engine.CreateArtisan(env.Ctx, engine.ArtisanCreateOptions{BusinessName: "Nameless"})
	mustKind(t, err, engine.KindValidation)
}

func TestVerifyArtisan(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	a, _ := env.Engine.GetArtisan(env.Ctx, "a1")
	if a.Status != domain.ArtisanActive || a.KYCVerifiedAt == nil {
		t.Fatalf("verification must activate, got %+v", a)
	}
	a, err := env.Engine.VerifyArtisan(env.Ctx, "a1", domain.KYCRejected, "tester")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if a.Status != domain.ArtisanInactive || a.KYCVerifiedAt != nil {
		t.Fatalf("rejection must deactivate, got %+v", a)
	}
	_, err = env.Engine.SetArtisanStatus(env.Ctx, "a1", domain.ArtisanActive, "tester")
	mustKind(t, err, engine.KindConflict)
	_, err = env.Engine.SetArtisanStatus(env.Ctx, "a1", domain.ArtisanQuarantined, "tester")
	mustKind(t, err, engine.KindValidation)
	_, err = env.Engine.VerifyArtisan(env.Ctx, "a1", "maybe", "tester")
	mustKind(t, err, engine.KindValidation)
	_, err = env.Engine.VerifyArtisan(env.Ctx, "ghost", domain.KYCVerified, "tester")
	mustKind(t, err, engine.KindNotFound)
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	a, err := env.Engine.AddCapability(env.Ctx, "a1", domain.Capability{Material: "silver", Technique: "forging", CostMultiplier: 0.9, LeadTimeDays: 5}, "tester")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(a.Capabilities) != 2 {
		t.Fatalf("expected two capabilities, got %d", len(a.Capabilities))
	}
	_, err = env.Engine.AddCapability(env.Ctx, "a1", domain.Capability{Material: "gold", Technique: "casting", CostMultiplier: 2, LeadTimeDays: 3}, "tester")
	mustKind(t, err, engine.KindConflict)
	_, err = env.Engine.AddCapability(env.Ctx, "a1", domain.Capability{Material: "gold", Technique: "engraving", LeadTimeDays: 0}, "tester")
	mustKind(t, err, engine.KindValidation)

	a, err = env.Engine.ReplaceCapabilities(env.Ctx, "a1", []domain.Capability{{Material: "bronze", Technique: "casting", CostMultiplier: 1, LeadTimeDays: 4}}, "tester")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(a.Capabilities) != 1 || a.Capabilities[0].Material != "bronze" {
		t.Fatalf("unexpected capabilities %+v", a.Capabilities)
	}
	dup := []domain.Capability{
		{Material: "gold", Technique: "casting", CostMultiplier: 1, LeadTimeDays: 4},
		{Material: "Gold", Technique: "Casting", CostMultiplier: 1, LeadTimeDays: 4},
	}
	_, err = env.Engine.ReplaceCapabilities(env.Ctx, "a1", dup, "tester")
	mustKind(t, err, engine.KindConflict)
}

func TestUpdateArtisanSettings(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	tier, vol := domain.TierEnterprise, 3
	a, err := env.Engine.UpdateArtisanSettings(env.Ctx, "a1", repo.ArtisanSettings{ServiceTier: &tier, MaxVolume: &vol}, "tester")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if a.ServiceTier != domain.TierEnterprise || a.MaxVolume != 3 || a.PayoutSchedule != domain.ScheduleWeekly {
		t.Fatalf("unexpected settings %+v", a)
	}
	bad := "yearly"
	_, err = env.Engine.UpdateArtisanSettings(env.Ctx, "a1", repo.ArtisanSettings{PayoutSchedule: &bad}, "tester")
	mustKind(t, err, engine.KindValidation)
}

func TestSeedReputationValidation(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	for _, rep := range []domain.Reputation{
		{QualityScore: 6},
		{QualityScore: 4, DefectRate: 1.5},
		{QualityScore: 4, TotalOrders: 1, CompletedOrders: 2},
	} {
		_, err := env.Engine.SeedReputation(env.Ctx, "a1", rep, "tester")
		mustKind(t, err, engine.KindValidation)
	}
}

func TestConnectAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", func(o *engine.ArtisanCreateOptions) { o.Country = "" })

	st, err := env.Engine.GetSellerConnectStatus(env.Ctx, "user-a1")
	if err != nil || st.HasAccount {
		t.Fatalf("expected no account, got %+v err %v", st, err)
	}

	res, err := env.Engine.CreateSellerConnectAccount(env.Ctx, "user-a1", "", engine.ConnectAccountOptions{ActorID: "tester"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if res.AccountID != "acct_test_1" || res.IsExisting || res.OnboardingURL == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	req := env.Rail.Accounts[0]
	if req.Country != "FR" || req.Email != "a1@example.com" || len(req.Capabilities) != 2 {
		t.Fatalf("unexpected account request %+v", req)
	}
	a, _ := env.Engine.GetArtisan(env.Ctx, "a1")
	if a.PayoutAccountID != "acct_test_1" || a.PayoutAccountStatus != domain.AccountPending {
		t.Fatalf("account not linked: %+v", a)
	}

	again, err := env.Engine.CreateSellerConnectAccount(env.Ctx, "user-a1", "", engine.ConnectAccountOptions{})
	if err != nil {
		t.Fatalf("existing account: %v", err)
	}
	if !again.IsExisting || again.AccountID != "acct_test_1" || len(env.Rail.Accounts) != 1 {
		t.Fatalf("expected a fresh link only, got %+v", again)
	}

	env.Rail.Status = payments.AccountStatus{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
	st, err = env.Engine.GetSellerConnectStatus(env.Ctx, "user-a1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.HasAccount || st.Status != domain.AccountActive {
		t.Fatalf("unexpected status %+v", st)
	}
	a, _ = env.Engine.GetArtisan(env.Ctx, "a1")
	if a.PayoutAccountStatus != domain.AccountActive {
		t.Fatalf("local status not refreshed: %s", a.PayoutAccountStatus)
	}
}

func TestConnectAccountErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSellerConnectAccount(env.Ctx, "nobody", "x@example.com", engine.ConnectAccountOptions{})
	mustKind(t, err, engine.KindNotFound)

	env.newArtisan(t, "a1", nil)
	env.Rail.AccountErr = payments.NewError("account", payments.CategoryAuthentication, errors.New("bad key sk_live_123"))
	_, err = env.Engine.CreateSellerConnectAccount(env.Ctx, "user-a1", "", engine.ConnectAccountOptions{})
	mustKind(t, err, engine.KindExternal)
	if got := err.Error(); got != "payout account creation failed (authentication)" {
		t.Fatalf("provider detail leaked: %q", got)
	}
}

func TestAccountStatusFrom(t *testing.T) {
	cases := []struct {
		in   payments.AccountStatus
		want string
	}{
		{payments.AccountStatus{ChargesEnabled: true, PayoutsEnabled: true}, domain.AccountActive},
		{payments.AccountStatus{ChargesEnabled: true}, domain.AccountPending},
		{payments.AccountStatus{PastDue: []string{"external_account"}}, domain.AccountRestricted},
		{payments.AccountStatus{DisabledReason: "rejected.fraud"}, domain.AccountRestricted},
	}
	for _, c := range cases {
		if got := engine.AccountStatusFrom(c.in); got != c.want {
			t.Fatalf("%+v: expected %s, got %s", c.in, c.want, got)
		}
	}
}
