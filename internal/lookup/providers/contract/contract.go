// Package contract holds reusable checks every provider must pass.
package contract

import (
	"context"
	"testing"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/providers"
)

// ContractTest is one provider call with its expected normalized answer.
type ContractTest struct {
	Name           string
	Provider       providers.Provider
	Call           models.ProviderCall
	ExpectDeferred bool
	ExpectedStatus int
	ValidateFunc   func(answer *models.ProviderAnswer) error
}

// ContractSuite is a collection of contract tests for one provider.
type ContractSuite struct {
	ProviderID string
	Tests      []ContractTest
}

func (s *ContractSuite) Run(t *testing.T) {
	for _, test := range s.Tests {
		t.Run(test.Name, func(t *testing.T) {
			if test.Provider.ID() != s.ProviderID {
				t.Fatalf("expected provider ID %s, got %s", s.ProviderID, test.Provider.ID())
			}
			if !serves(test.Provider, test.Call.LookupType) {
				t.Fatalf("provider %s does not declare %s", s.ProviderID, test.Call.LookupType)
			}

			answer, err := test.Provider.Execute(context.Background(), test.Call)
			if err != nil {
				t.Fatalf("provider execute failed: %v", err)
			}
			if answer.Deferred != test.ExpectDeferred {
				t.Errorf("expected deferred=%v, got %v", test.ExpectDeferred, answer.Deferred)
			}
			if !answer.Deferred && answer.StatusCode != test.ExpectedStatus {
				t.Errorf("expected status %d, got %d", test.ExpectedStatus, answer.StatusCode)
			}
			if answer.Deferred && !test.Provider.Capabilities().Deferred {
				t.Error("provider deferred an answer without declaring deferred capability")
			}
			if answer.StatusCode == models.StatusSuccess && len(answer.Data) == 0 {
				t.Error("successful answer carries no data")
			}
			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(answer); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}
}

// CapabilityTest validates that provider capabilities are declared.
type CapabilityTest struct {
	Provider providers.Provider
}

func (ct *CapabilityTest) Run(t *testing.T) {
	caps := ct.Provider.Capabilities()
	if caps.Protocol == "" {
		t.Error("protocol not set")
	}
	if caps.Version == "" {
		t.Error("version not set")
	}
	if len(caps.Types) == 0 {
		t.Error("no lookup types declared")
	}
	for _, lt := range caps.Types {
		if !lt.IsValid() {
			t.Errorf("declared unknown lookup type %q", lt)
		}
	}
}

// ErrorContractTest validates that provider errors follow the taxonomy.
type ErrorContractTest struct {
	Name            string
	Provider        providers.Provider
	Call            models.ProviderCall
	ExpectedError   providers.ErrorCategory
	ExpectedRetry   bool
	ExpectedMessage string
}

func (ect *ErrorContractTest) Run(t *testing.T) {
	t.Run(ect.Name, func(t *testing.T) {
		_, err := ect.Provider.Execute(context.Background(), ect.Call)
		if err == nil {
			t.Fatal("expected error but got none")
		}
		if category := providers.GetCategory(err); category != ect.ExpectedError {
			t.Errorf("expected error category %s, got %s", ect.ExpectedError, category)
		}
		if retry := providers.IsRetryable(err); retry != ect.ExpectedRetry {
			t.Errorf("expected retryable=%v, got %v", ect.ExpectedRetry, retry)
		}
		if ect.ExpectedMessage != "" && providers.MessageOf(err) != ect.ExpectedMessage {
			t.Errorf("expected message %q, got %q", ect.ExpectedMessage, providers.MessageOf(err))
		}
	})
}

func serves(p providers.Provider, t models.LookupType) bool {
	for _, lt := range p.Capabilities().Types {
		if lt == t {
			return true
		}
	}
	return false
}
