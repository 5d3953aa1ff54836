package platform

import (
	"context"
	"net/http"
)

const (
	accountPath       = "/v1/account"
	giftCardsPath     = "/v1/gift-cards"
	walletsPath       = "/v1/wallets"
	salesChannelsPath = "/v1/sales-channels"
)

type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type GiftCardRequest struct {
	InitialValue Money  `json:"initial_value"`
	Note         string `json:"note,omitempty"`
}

type WalletRequest struct {
	Customer WalletCustomer `json:"customer"`
	Currency string         `json:"currency"`
}

type WalletCustomer struct {
	Email string `json:"email"`
}

// The bodies below are fixed demo payloads.
var (
	exampleGiftCard = GiftCardRequest{
		InitialValue: Money{Amount: "25.00", Currency: "USD"},
		Note:         "Created by risebridge example",
	}
	exampleWallet = WalletRequest{
		Customer: WalletCustomer{Email: "customer@example.com"},
		Currency: "USD",
	}
)

func (c *Client) GetAccount(ctx context.Context, accessToken string) (*Response, error) {
	return c.Do(ctx, accessToken, http.MethodGet, accountPath, nil)
}

func (c *Client) CreateGiftCard(ctx context.Context, accessToken string) (*Response, error) {
	return c.Do(ctx, accessToken, http.MethodPost, giftCardsPath, exampleGiftCard)
}

func (c *Client) CreateWallet(ctx context.Context, accessToken string) (*Response, error) {
	return c.Do(ctx, accessToken, http.MethodPost, walletsPath, exampleWallet)
}

func (c *Client) ListSalesChannels(ctx context.Context, accessToken string) (*Response, error) {
	return c.Do(ctx, accessToken, http.MethodGet, salesChannelsPath, nil)
}
