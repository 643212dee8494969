package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/mark3labs/agentwallet-go/history"
	"github.com/mark3labs/agentwallet-go/wallet"
	"github.com/mark3labs/agentwallet-go/x402"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcpproto.NewTool(
		"pay_for_resource",
		mcpproto.WithDescription("Fetch a URL, automatically paying the x402 challenge when the server demands payment. Returns the resource body and the payment outcome."),
		mcpproto.WithString("url", mcpproto.Required(), mcpproto.Description("Resource URL to fetch")),
		mcpproto.WithString("method", mcpproto.Description("HTTP method (default GET)")),
		mcpproto.WithString("description", mcpproto.Description("Human-readable purpose recorded in the transaction history")),
	), s.handlePayForResource)

	s.mcpServer.AddTool(mcpproto.NewTool(
		"get_balance",
		mcpproto.WithDescription("Get the wallet's token balance on a network"),
		mcpproto.WithString("network", mcpproto.Description("Network tag (defaults to the wallet's primary network)")),
	), s.handleGetBalance)

	s.mcpServer.AddTool(mcpproto.NewTool(
		"transfer_funds",
		mcpproto.WithDescription("Transfer tokens directly to a recipient, subject to the wallet's spending limits"),
		mcpproto.WithString("to", mcpproto.Required(), mcpproto.Description("Recipient address or party id")),
		mcpproto.WithString("amount", mcpproto.Required(), mcpproto.Description("Amount in display units, e.g. \"0.10\"")),
		mcpproto.WithString("network", mcpproto.Description("Network tag (defaults to the wallet's primary network)")),
		mcpproto.WithString("description", mcpproto.Description("Human-readable purpose recorded in the transaction history")),
	), s.handleTransferFunds)

	s.mcpServer.AddTool(mcpproto.NewTool(
		"list_transactions",
		mcpproto.WithDescription("List the wallet's recent transactions, newest first"),
		mcpproto.WithNumber("limit", mcpproto.Description("Maximum records to return (default 50)")),
	), s.handleListTransactions)

	s.mcpServer.AddTool(mcpproto.NewTool(
		"get_spend_limits",
		mcpproto.WithDescription("Report the wallet's per-transaction and daily spending limits and how much of today's budget is used"),
		mcpproto.WithString("network", mcpproto.Description("Network whose payer identity to inspect (defaults to the wallet's primary network)")),
	), s.handleGetSpendLimits)
}

// network resolves the optional network argument.
func (s *Server) network(args map[string]interface{}) string {
	if network, ok := args["network"].(string); ok && network != "" {
		return network
	}
	return s.defaultNetwork
}

type payResponse struct {
	Success      bool   `json:"success"`
	Paid         bool   `json:"paid"`
	StatusCode   int    `json:"statusCode"`
	Amount       string `json:"amount,omitempty"`
	Asset        string `json:"asset,omitempty"`
	Network      string `json:"network,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	SettlementID string `json:"settlementId,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Body         string `json:"body,omitempty"`
}

func (s *Server) handlePayForResource(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := req.GetArguments()
	url, _ := args["url"].(string)
	if url == "" {
		return mcpproto.NewToolResultError("url is required"), nil
	}
	method, _ := args["method"].(string)

	var opts []wallet.RequestOption
	if description, _ := args["description"].(string); description != "" {
		opts = append(opts, wallet.WithDescription(description))
	}

	result, err := s.wallet.PayForResource(ctx, method, url, opts...)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	return jsonResult(payResponse{
		Success:      result.Success,
		Paid:         result.Paid,
		StatusCode:   result.StatusCode,
		Amount:       result.Amount,
		Asset:        result.Asset,
		Network:      result.Network,
		Recipient:    result.Recipient,
		SettlementID: result.SettlementID,
		ErrorCode:    string(result.ErrorCode),
		ErrorMessage: result.ErrorMessage,
		Body:         string(result.Body),
	})
}

type balanceResponse struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Atomic  string `json:"atomic"`
	Display string `json:"display"`
}

func (s *Server) handleGetBalance(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	network := s.network(req.GetArguments())

	balance, err := s.wallet.Balance(ctx, network)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	display, err := x402.AtomicToDecimal(balance.Amount.String(), balance.Decimals)
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to convert balance: %w", err)
	}

	return jsonResult(balanceResponse{
		Network: network,
		Address: s.wallet.Payer(network),
		Atomic:  balance.Amount.String(),
		Display: display.String(),
	})
}

type transferResponse struct {
	Transaction string `json:"transaction"`
	Confirmed   bool   `json:"confirmed"`
	Network     string `json:"network"`
	Recipient   string `json:"to"`
	Amount      string `json:"amount"`
}

func (s *Server) handleTransferFunds(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := req.GetArguments()
	to, _ := args["to"].(string)
	if to == "" {
		return mcpproto.NewToolResultError("to is required"), nil
	}
	amountStr, _ := args["amount"].(string)
	if amountStr == "" {
		return mcpproto.NewToolResultError("amount is required"), nil
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return mcpproto.NewToolResultError(fmt.Sprintf("invalid amount %q", amountStr)), nil
	}
	network := s.network(args)

	var opts []wallet.RequestOption
	if description, _ := args["description"].(string); description != "" {
		opts = append(opts, wallet.WithDescription(description))
	}

	result, err := s.wallet.Transfer(ctx, network, to, amount, opts...)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	return jsonResult(transferResponse{
		Transaction: result.TxID,
		Confirmed:   result.Confirmed,
		Network:     network,
		Recipient:   to,
		Amount:      amount.String(),
	})
}

type transactionsResponse struct {
	Count        int                         `json:"count"`
	Transactions []history.TransactionRecord `json:"transactions"`
}

func (s *Server) handleListTransactions(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	limit := 0
	if l, ok := req.GetArguments()["limit"].(float64); ok {
		limit = int(l)
	}

	records, err := s.wallet.History().List(ctx, limit)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	if records == nil {
		records = []history.TransactionRecord{}
	}

	return jsonResult(transactionsResponse{
		Count:        len(records),
		Transactions: records,
	})
}

// limitsResponse reports spending policy. Absent limits mean the
// wallet spends uncapped.
type limitsResponse struct {
	Payer          string `json:"payer"`
	PerTransaction string `json:"perTransaction,omitempty"`
	Daily          string `json:"daily,omitempty"`
	SpentToday     string `json:"spentToday"`
	RemainingToday string `json:"remainingToday,omitempty"`
}

func (s *Server) handleGetSpendLimits(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	network := s.network(req.GetArguments())
	payer := s.wallet.Payer(network)
	if payer == "" {
		return mcpproto.NewToolResultError(fmt.Sprintf("no payer identity for network %q", network)), nil
	}

	limiter := s.wallet.Limiter()
	spent, err := limiter.SpentToday(ctx, payer)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	response := limitsResponse{Payer: payer, SpentToday: spent.String()}
	perTx, daily := limiter.Limits()
	if perTx.IsPositive() {
		response.PerTransaction = perTx.String()
	}
	if daily.IsPositive() {
		response.Daily = daily.String()
		response.RemainingToday = daily.Sub(spent).String()
	}

	return jsonResult(response)
}

// jsonResult renders v as a JSON text result.
func jsonResult(v any) (*mcpproto.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to encode result: %w", err)
	}
	return mcpproto.NewToolResultText(string(data)), nil
}
