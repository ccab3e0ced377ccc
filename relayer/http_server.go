package relayer

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/mintrelay/mintrelay/core/chainio/aa"
	"github.com/mintrelay/mintrelay/core/config"
	"github.com/mintrelay/mintrelay/model"
	"github.com/mintrelay/mintrelay/pkg/erc4337/bundler"
	"github.com/mintrelay/mintrelay/pkg/erc4337/userop"
	"github.com/mintrelay/mintrelay/version"
)

var weiPerEth = decimal.New(1, 18)

func (r *Relayer) startHttpServer(ctx context.Context) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())

	// Register Sentry before Recover so panics are reported
	if os.Getenv("SENTRY_DSN") != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic:         true,
			WaitForDelivery: false,
		}))
	}

	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		if r.status == runningStatus {
			return c.String(http.StatusOK, "up")
		}
		return c.String(http.StatusServiceUnavailable, "pending...")
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))

	e.GET("/account", r.handleGetAccount)
	e.POST("/deploy", r.handleDeploy)
	e.POST("/mint", r.handleMint)
	e.GET("/balance", r.handleBalance)
	e.GET("/info", r.handleInfo)

	debug := e.Group("/debug", r.debugAuth)
	debug.GET("/state", r.handleDebugState)
	debug.GET("/operations", r.handleDebugOperations)

	addr := r.config.ServerAddr
	r.logger.Info("http server listening", "address", addr)
	goSafe(func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Warn("http server stopped", "address", addr, "error", err)
		}
	})

	return e
}

func (r *Relayer) handleGetAccount(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return errorJSON(c, http.StatusBadRequest, "userId is required")
	}
	if err := r.config.ReadinessForResolve(); err != nil {
		return errorFrom(c, err)
	}

	acct, err := r.resolver.Resolve(c.Request().Context(), userID)
	if err != nil {
		r.metrics.IncResolution("error")
		return errorFrom(c, err)
	}

	r.metrics.IncResolution("ok")
	return c.JSON(http.StatusOK, acct)
}

type deployRequest struct {
	UserID string `json:"userId" query:"userId"`
}

func (r *Relayer) handleDeploy(c echo.Context) error {
	var req deployRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "cannot parse request")
	}
	if req.UserID == "" {
		return errorJSON(c, http.StatusBadRequest, "userId is required")
	}
	if err := r.config.ReadinessForDeploy(); err != nil {
		return errorFrom(c, err)
	}
	if r.deployer == nil {
		return errorFrom(c, &config.MissingConfigError{Fields: []string{"eth_rpc_urls"}})
	}

	result, err := r.deployer.Deploy(c.Request().Context(), req.UserID)
	if err != nil {
		r.metrics.IncDeployment("error")
		return errorFrom(c, err)
	}

	status := "ok"
	if result.TxHash == "" {
		status = "noop"
	}
	r.metrics.IncDeployment(status)

	if result.TxHash != "" {
		r.recordHistory(&model.OperationRecord{
			Kind:   model.OperationKindDeploy,
			UserID: req.UserID,
			Sender: result.Sender,
			TxHash: result.TxHash,
		})
	}

	return c.JSON(http.StatusOK, result)
}

type mintResponse struct {
	UserOpHash string               `json:"userOpHash"`
	Sender     common.Address       `json:"sender"`
	Deployed   bool                 `json:"deployed"`
	UserOp     *userop.UserOperation `json:"userOp"`
}

func (r *Relayer) handleMint(c echo.Context) error {
	userID := c.QueryParam("userId")
	recipientStr := c.QueryParam("recipient")
	amountStr := c.QueryParam("amount")
	if userID == "" || recipientStr == "" || amountStr == "" {
		return errorJSON(c, http.StatusBadRequest, "userId, recipient and amount are required")
	}
	if !common.IsHexAddress(recipientStr) {
		return errorJSON(c, http.StatusBadRequest, "recipient is not a valid address")
	}
	recipient := common.HexToAddress(recipientStr)

	amount, err := parseTokenAmount(amountStr)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	if err := r.config.ReadinessForMint(); err != nil {
		return errorFrom(c, err)
	}

	reqCtx := c.Request().Context()
	op, err := r.builder.BuildGaslessMint(reqCtx, userID, recipient, amount)
	if err != nil {
		return errorFrom(c, err)
	}

	hash, err := r.builder.Send(reqCtx, op)
	if err != nil {
		r.metrics.IncUserOpSubmitted("rejected")
		r.recordHistory(&model.OperationRecord{
			Kind:      model.OperationKindMint,
			UserID:    userID,
			Sender:    op.Sender,
			Recipient: recipient.Hex(),
			Amount:    amountStr,
			Error:     err.Error(),
		})
		return errorFrom(c, err)
	}

	r.metrics.IncUserOpSubmitted("ok")
	r.recordHistory(&model.OperationRecord{
		Kind:       model.OperationKindMint,
		UserID:     userID,
		Sender:     op.Sender,
		Recipient:  recipient.Hex(),
		Amount:     amountStr,
		UserOpHash: hash,
	})

	return c.JSON(http.StatusOK, &mintResponse{
		UserOpHash: hash,
		Sender:     op.Sender,
		Deployed:   !op.HasFactory(),
		UserOp:     op,
	})
}

func (r *Relayer) handleBalance(c echo.Context) error {
	addressStr := c.QueryParam("address")
	if addressStr == "" {
		return errorJSON(c, http.StatusBadRequest, "address is required")
	}
	if !common.IsHexAddress(addressStr) {
		return errorJSON(c, http.StatusBadRequest, "address is not a valid address")
	}
	if len(r.config.SmartWallet.EthRpcUrls) == 0 {
		return errorFrom(c, &config.MissingConfigError{Fields: []string{"eth_rpc_urls"}})
	}

	address := common.HexToAddress(addressStr)
	reqCtx := c.Request().Context()

	wei, err := r.reader.BalanceAt(reqCtx, address)
	if err != nil {
		return errorFrom(c, err)
	}

	resp := map[string]interface{}{
		"address": address.Hex(),
		"wei":     wei.String(),
		"eth":     decimal.NewFromBigInt(wei, 0).Div(weiPerEth).String(),
	}

	// token balance is best effort, the token may not be configured
	if token := r.config.SmartWallet.TokenAddress; token != (common.Address{}) {
		if calldata, err := aa.PackBalanceOf(address); err == nil {
			if ret, err := r.reader.CallContract(reqCtx, token, calldata); err == nil {
				if balance, err := aa.UnpackBalanceOf(ret); err == nil {
					resp["tokenBalance"] = balance.String()
				}
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (r *Relayer) handleInfo(c echo.Context) error {
	sw := r.config.SmartWallet

	resp := map[string]interface{}{
		"version":    version.Get(),
		"entryPoint": sw.EntrypointAddress.Hex(),
		"factory":    sw.FactoryAddress.Hex(),
		"paymaster":  sw.PaymasterAddress.Hex(),
		"token":      sw.TokenAddress.Hex(),
		"explorer":   config.ExplorerURL(),
	}

	if len(sw.EthRpcUrls) > 0 {
		reqCtx := c.Request().Context()
		if chainID, err := r.reader.ChainID(reqCtx); err == nil {
			resp["chainId"] = chainID.String()
		}
		if blockNumber, err := r.reader.BlockNumber(reqCtx); err == nil {
			resp["blockNumber"] = blockNumber
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (r *Relayer) handleDebugState(c echo.Context) error {
	total, err := r.history.Total()
	if err != nil {
		total = 0
	}
	stored, err := r.history.Stored()
	if err != nil {
		stored = 0
	}

	resp := map[string]interface{}{
		"status":           string(r.status),
		"version":          version.Get(),
		"startedAt":        r.startedAt.UTC().Format(time.RFC3339),
		"dbPath":           r.db.DbPath(),
		"rpcEndpoints":     r.reader.Endpoints(),
		"bundlerUrl":       r.config.SmartWallet.BundlerURL,
		"relayerAddress":   r.config.RelayerAddress.Hex(),
		"operationsTotal":  total,
		"operationsStored": stored,
	}
	if r.chainID != nil {
		resp["chainId"] = r.chainID.String()
	}

	return c.JSON(http.StatusOK, resp)
}

func (r *Relayer) handleDebugOperations(c echo.Context) error {
	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "limit must be a number")
		}
		limit = parsed
	}

	records, err := r.history.List(c.QueryParam("userId"), limit)
	if err != nil {
		return errorFrom(c, err)
	}
	if records == nil {
		records = []*model.OperationRecord{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"operations": records,
	})
}

func (r *Relayer) recordHistory(rec *model.OperationRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.Record(rec); err != nil {
		r.logger.Warnf("cannot record operation history: %v", err)
	}
}

var errInvalidAmount = errors.New("amount must be a positive decimal number with at most 18 decimals")

// parseTokenAmount converts a human token amount like "10" or "0.5" to base
// units with 18 decimals.
func parseTokenAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errInvalidAmount
	}
	if d.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	scaled := d.Mul(weiPerEth)
	if !scaled.IsInteger() {
		return nil, errInvalidAmount
	}
	return scaled.BigInt(), nil
}

// errorJSON writes the flat error shape every endpoint shares.
func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// errorFrom maps a pipeline error to a response. Bundler rejections carry the
// attempted operation so the caller can inspect and adjust it.
func errorFrom(c echo.Context, err error) error {
	status := httpStatusFor(err)

	var rejection *bundler.RejectionError
	if errors.As(err, &rejection) {
		return c.JSON(status, map[string]interface{}{
			"error":  rejection.Reason.Message,
			"userOp": rejection.Op,
		})
	}

	return errorJSON(c, status, err.Error())
}
