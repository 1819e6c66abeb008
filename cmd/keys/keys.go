package keys

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"executioncore/src/database"
	"executioncore/src/model"
	"executioncore/src/repository"
	"executioncore/src/security"
)

// Keys writes one account's exchange credentials, encrypted, into its
// exchange link. Running it again for the same (account, exchange) rotates
// the credentials in place.
type Keys struct {
	Account   string
	Exchange  string
	APIKey    string
	APISecret string
	// Scope overrides the credential scope. Leave empty unless several links
	// really sign with the same credential.
	Scope string
	// Create registers the account first if it does not exist yet.
	Create bool
}

func (k *Keys) Start() error {
	if k.Account == "" || k.Exchange == "" {
		return fmt.Errorf("account and exchange are required")
	}
	if k.APIKey == "" || k.APISecret == "" {
		return fmt.Errorf("api key and api secret are required")
	}

	if err := database.InitMainDB(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	ctx := context.Background()
	accounts := repository.NewAccountRepository()

	account, err := accounts.FindByName(ctx, k.Account)
	if err != nil {
		return err
	}
	if account == nil {
		if !k.Create {
			return fmt.Errorf("account %q not found (use --create to register it)", k.Account)
		}

		account = &model.Account{Name: k.Account, Role: model.AccountRoleUser, Active: true}
		if err := accounts.Save(ctx, account); err != nil {
			return err
		}

		account, err = accounts.FindByName(ctx, k.Account)
		if err != nil {
			return err
		}
	}

	keyEnc, err := security.EncryptString(k.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	secretEnc, err := security.EncryptString(k.APISecret)
	if err != nil {
		return fmt.Errorf("encrypt api secret: %w", err)
	}

	scope := k.Scope
	if scope == "" {
		scope = fmt.Sprintf("%d:%s", account.ID, k.Exchange)
	}

	link := &model.ExchangeLink{
		AccountID:       account.ID,
		Exchange:        k.Exchange,
		CredentialScope: scope,
		APIKeyHash:      keyEnc,
		APISecretHash:   secretEnc,
		Enabled:         true,
	}

	if err := accounts.SaveLink(ctx, link); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"account":  k.Account,
		"exchange": k.Exchange,
		"scope":    scope,
	}).Info("exchange credentials stored")

	return nil
}
