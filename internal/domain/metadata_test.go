package domain

import "testing"

func TestMergePhase_KeepsExistingFields(t *testing.T) {
	var m ContestMetadata
	m.MergePhase(PhaseInfo{Name: "live", ChangedAt: 1000})

	// A name-only update must not reset the timestamp.
	m.MergePhase(PhaseInfo{Name: "frozen"})

	if m.Phase.Name != "frozen" {
		t.Errorf("expected phase frozen, got %s", m.Phase.Name)
	}
	if m.Phase.ChangedAt != 1000 {
		t.Errorf("expected changedAt preserved, got %d", m.Phase.ChangedAt)
	}
}

func TestMergeRegistration_CapacityPreserved(t *testing.T) {
	var m ContestMetadata
	m.MergeRegistration(RegistrationInfo{Capacity: 50})

	// Count recomputation never carries capacity; the stored value survives.
	m.MergeRegistration(RegistrationInfo{ParticipantCount: 3, Full: false})

	if m.Registration.Capacity != 50 {
		t.Errorf("expected capacity 50, got %d", m.Registration.Capacity)
	}
	if m.Registration.ParticipantCount != 3 {
		t.Errorf("expected count 3, got %d", m.Registration.ParticipantCount)
	}
}

func TestMergeParticipant_NeverClears(t *testing.T) {
	var m ContestMetadata
	m.MergeParticipant("0xwallet", ParticipantEntry{
		Vault:        "vault-1",
		AmountWei:    "1000000000000000000",
		RegisteredAt: 500,
	})

	// Settlement bookkeeping arrives later with only the settled fields set.
	m.MergeParticipant("0xwallet", ParticipantEntry{Settled: true, SettledAt: 900})

	entry := m.Participants["0xwallet"]
	if entry.Vault != "vault-1" || entry.AmountWei != "1000000000000000000" || entry.RegisteredAt != 500 {
		t.Errorf("registration fields were clobbered: %+v", entry)
	}
	if !entry.Settled || entry.SettledAt != 900 {
		t.Errorf("settlement fields not merged: %+v", entry)
	}
}

func TestMergeParticipant_SettledNeverUnset(t *testing.T) {
	var m ContestMetadata
	m.MergeParticipant("0xwallet", ParticipantEntry{Settled: true, SettledAt: 900})
	m.MergeParticipant("0xwallet", ParticipantEntry{AmountWei: "5"})

	if !m.Participants["0xwallet"].Settled {
		t.Error("a later merge must not unset the settled flag")
	}
}

func TestMergeAddresses_Additive(t *testing.T) {
	var m ContestMetadata
	m.MergeAddresses(OnChainAddresses{VaultFactory: "0xfactory"})
	m.MergeAddresses(OnChainAddresses{PriceOracle: "0xoracle"})

	if m.Addresses.VaultFactory != "0xfactory" {
		t.Errorf("vault factory lost: %+v", m.Addresses)
	}
	if m.Addresses.PriceOracle != "0xoracle" {
		t.Errorf("price oracle missing: %+v", m.Addresses)
	}
}
