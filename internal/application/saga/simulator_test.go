package saga

import "testing"

func TestSimulator_DisabledByDefault(t *testing.T) {
	s := NewSimulator()

	if s.ShouldFailCredit("txn_1") {
		t.Error("new simulator must not fail anything")
	}
	if cfg := s.Config(); cfg.Enabled || cfg.FailureType != FailureCredit {
		t.Errorf("unexpected default config: %+v", cfg)
	}
}

func TestSimulator_FailureRate(t *testing.T) {
	s := NewSimulator()

	s.Configure(SimulatorConfig{Enabled: true, FailureRate: 1})
	if !s.ShouldFailCredit("txn_1") {
		t.Error("rate 1.0 must always fail")
	}

	s.Configure(SimulatorConfig{Enabled: true, FailureRate: 0})
	if s.ShouldFailCredit("txn_1") {
		t.Error("rate 0 must never fail")
	}
}

// TestSimulator_ExplicitIDsOverrideRate: заданный список транзакций
// полностью вытесняет вероятностный режим.
func TestSimulator_ExplicitIDsOverrideRate(t *testing.T) {
	s := NewSimulator()
	s.Configure(SimulatorConfig{
		Enabled:            true,
		FailureRate:        1,
		FailTransactionIDs: []string{"txn_doomed"},
	})

	if !s.ShouldFailCredit("txn_doomed") {
		t.Error("listed transaction must fail")
	}
	if s.ShouldFailCredit("txn_other") {
		t.Error("unlisted transaction must pass despite rate 1.0")
	}
}

func TestSimulator_DisabledIgnoresList(t *testing.T) {
	s := NewSimulator()
	s.Configure(SimulatorConfig{
		Enabled:            false,
		FailTransactionIDs: []string{"txn_doomed"},
	})

	if s.ShouldFailCredit("txn_doomed") {
		t.Error("disabled simulator must never fail")
	}
}

func TestSimulator_Reset(t *testing.T) {
	s := NewSimulator()
	s.Configure(SimulatorConfig{Enabled: true, FailureRate: 1})

	s.Reset()

	if s.ShouldFailCredit("txn_1") {
		t.Error("reset simulator must not fail anything")
	}
	if cfg := s.Config(); cfg.Enabled || cfg.FailureRate != 0 || len(cfg.FailTransactionIDs) != 0 {
		t.Errorf("config after reset: %+v", cfg)
	}
}

func TestSimulator_ConfigReturnsCopy(t *testing.T) {
	s := NewSimulator()
	s.Configure(SimulatorConfig{
		Enabled:            true,
		FailTransactionIDs: []string{"txn_doomed"},
	})

	cfg := s.Config()
	cfg.FailTransactionIDs[0] = "txn_mutated"

	if !s.ShouldFailCredit("txn_doomed") {
		t.Error("mutating the returned config must not affect the simulator")
	}
}
