// Package custody sends user transfers through Coinbase Prime wallet
// withdrawals instead of the chain signer. Selected with
// TRANSFER_BACKEND=prime for deployments where the custodial funds live in
// Prime trading wallets.
package custody

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"tiltvault-clearing-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

type Service struct {
	portfolioId     string
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService

	mu        sync.Mutex
	walletIds map[string]string // asset symbol -> wallet id
}

func NewService(cfg models.CustodyConfig) (*Service, error) {
	if cfg.PortfolioId == "" {
		return nil, fmt.Errorf("prime portfolio id cannot be empty")
	}

	creds, err := loadCredentials()
	if err != nil {
		return nil, err
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		portfolioId:     cfg.PortfolioId,
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		walletIds:       make(map[string]string),
	}, nil
}

func loadCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// SendAsset withdraws amount of assetSymbol from the trading wallet holding
// that asset to the destination address. The reference seeds the withdrawal
// idempotency key so redelivered payments reuse the same Prime activity.
func (s *Service) SendAsset(ctx context.Context, assetSymbol, toAddress string, amount decimal.Decimal, reference string) (string, error) {
	walletId, err := s.walletIdForAsset(ctx, assetSymbol)
	if err != nil {
		return "", err
	}

	idempotencyKey := withdrawalIdempotencyKey(reference)

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:     s.portfolioId,
		SourceWalletId:  walletId,
		Amount:          amount.String(),
		IdempotencyKey:  idempotencyKey,
		Symbol:          assetSymbol,
		DestinationType: "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: &model.BlockchainAddress{
			Address: toAddress,
		},
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", walletId),
			zap.String("amount", amount.String()),
			zap.String("asset", assetSymbol),
			zap.Error(err))
		return "", fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal created successfully",
		zap.String("activity_id", response.ActivityId),
		zap.String("wallet_id", walletId),
		zap.String("amount", amount.String()),
		zap.String("asset", assetSymbol))

	return response.ActivityId, nil
}

// withdrawalIdempotencyKey derives the Prime idempotency key. Prime expects
// UUID-shaped keys, so the reference is hashed into a deterministic UUID: a
// redelivered payment reuses the same key and dedupes to the same activity.
func withdrawalIdempotencyKey(reference string) string {
	if reference == "" {
		return uuid.New().String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(reference)).String()
}

func (s *Service) walletIdForAsset(ctx context.Context, symbol string) (string, error) {
	s.mu.Lock()
	if id, ok := s.walletIds[symbol]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	request := &wallets.ListWalletsRequest{
		PortfolioId: s.portfolioId,
		Type:        "TRADING",
		Symbols:     []string{symbol},
	}

	response, err := s.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return "", fmt.Errorf("unable to list wallets: %w", err)
	}

	if len(response.Wallets) == 0 {
		return "", fmt.Errorf("no trading wallet found for asset %s", symbol)
	}

	id := response.Wallets[0].Id
	s.mu.Lock()
	s.walletIds[symbol] = id
	s.mu.Unlock()

	return id, nil
}
