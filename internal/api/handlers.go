package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bardlex/gobt/internal/address"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/internal/electrum"
	"github.com/bardlex/gobt/pkg/errors"
	"github.com/bardlex/gobt/pkg/log"
)

const (
	maxBatchAddresses   = 50
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// BalanceTracker is the tracker surface the handlers consume.
type BalanceTracker interface {
	GetBalance(ctx context.Context, addr string) (*electrum.Balance, error)
	GetBalances(ctx context.Context, addrs []string) []electrum.BalanceOutcome
	GetHistory(ctx context.Context, addr string) ([]electrum.HistoryEntry, error)
	GetServerInfo() (*electrum.ServerInfo, error)
	DiscoverServers(maxServers int, testConnection bool) *electrum.DiscoveryReport
}

// ServerListStore persists the ranked server list from a discovery pass.
type ServerListStore interface {
	RecordServerList(ctx context.Context, list *redis.ServerList) error
}

// Handler serves the v1 endpoints.
type Handler struct {
	tracker BalanceTracker
	store   ServerListStore
	cfg     *Config
	logger  *log.Logger
}

// NewHandler builds the endpoint handler set. store may be nil when no
// persistence layer is attached; discovery results are then returned
// without being recorded.
func NewHandler(tracker BalanceTracker, store ServerListStore, cfg *Config, logger *log.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		store:   store,
		cfg:     cfg,
		logger:  logger.WithComponent("api"),
	}
}

// GetBalance returns the balance of one address.
func (h *Handler) GetBalance(c *gin.Context) {
	addr := c.Param("address")

	balance, err := h.tracker.GetBalance(c.Request.Context(), addr)
	if err != nil {
		status, resp := queryError(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("balance query failed", "address", addr)
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, respond(newAddressBalance(balance, time.Now().UTC()), ""))
}

// GetBalances returns balances for a batch of addresses, one outcome per
// requested address in request order.
func (h *Handler) GetBalances(c *gin.Context) {
	var req BatchBalancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			respondError("invalid_request", "request body must carry an addresses array"))
		return
	}
	if len(req.Addresses) == 0 || len(req.Addresses) > maxBatchAddresses {
		c.JSON(http.StatusBadRequest, respondError("invalid_request",
			fmt.Sprintf("addresses must hold between 1 and %d entries", maxBatchAddresses)))
		return
	}

	outcomes := h.tracker.GetBalances(c.Request.Context(), req.Addresses)
	now := time.Now().UTC()

	resp := BatchBalancesResponse{
		Balances:  make([]BatchBalanceEntry, 0, len(outcomes)),
		Requested: len(req.Addresses),
	}
	for _, outcome := range outcomes {
		entry := BatchBalanceEntry{Address: outcome.Address}
		if outcome.Err != nil {
			entry.Error = svcMessage(outcome.Err)
			resp.Failed++
		} else {
			balance := newAddressBalance(outcome.Balance, now)
			entry.Balance = &balance
			resp.Succeeded++
		}
		resp.Balances = append(resp.Balances, entry)
	}

	c.JSON(http.StatusOK, respond(resp, ""))
}

// GetHistory returns a page of an address's transaction history.
func (h *Handler) GetHistory(c *gin.Context) {
	addr := c.Param("address")

	limit, offset, err := historyPage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, respondError("invalid_request", err.Error()))
		return
	}

	entries, err := h.tracker.GetHistory(c.Request.Context(), addr)
	if err != nil {
		status, resp := queryError(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("history query failed", "address", addr)
		}
		c.JSON(status, resp)
		return
	}

	page := make([]electrum.HistoryEntry, 0, limit)
	if offset < len(entries) {
		end := min(offset+limit, len(entries))
		page = append(page, entries[offset:end]...)
	}

	c.JSON(http.StatusOK, respond(HistoryResponse{
		Address:           addr,
		Transactions:      page,
		TotalTransactions: len(entries),
		Page:              offset/limit + 1,
		PerPage:           limit,
	}, ""))
}

// ValidateAddress reports whether an address decodes, with its family
// and Electrum scripthash when it does. Validity is part of the payload,
// so an invalid address is still a 200.
func (h *Handler) ValidateAddress(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			respondError("invalid_request", "request body must carry an address"))
		return
	}

	resp := ValidateResponse{Address: req.Address, Network: "mainnet"}
	scripthash, addrType, err := address.Decode(req.Address)
	if err != nil {
		resp.AddressType = address.GetType(req.Address).String()
		resp.Error = svcMessage(err)
	} else {
		resp.IsValid = true
		resp.AddressType = addrType.String()
		resp.ScriptHash = scripthash.String()
	}

	c.JSON(http.StatusOK, respond(resp, ""))
}

// GetServerInfo describes the active Electrum server connection.
func (h *Handler) GetServerInfo(c *gin.Context) {
	info, err := h.tracker.GetServerInfo()
	if err != nil {
		h.logger.WithError(err).Error("server info query failed")
		c.JSON(http.StatusBadGateway, respondError("query_failed", "Electrum query failed"))
		return
	}
	if !info.Connected {
		c.JSON(http.StatusServiceUnavailable,
			respondError("not_connected", "no active Electrum server connection"))
		return
	}

	c.JSON(http.StatusOK, respond(newServerInfo(info), ""))
}

// DiscoverServers runs a discovery pass and returns the ranked list.
// Probed lists are also recorded in the store; unprobed candidate lists
// are not, so a zero-health pass never replaces real rankings.
func (h *Handler) DiscoverServers(c *gin.Context) {
	var req DiscoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, respondError("invalid_request", "malformed request body"))
			return
		}
	}

	maxServers := h.cfg.MaxServers
	if req.MaxServers != nil {
		if *req.MaxServers <= 0 {
			c.JSON(http.StatusBadRequest, respondError("invalid_request", "max_servers must be positive"))
			return
		}
		maxServers = *req.MaxServers
	}
	testConnection := true
	if req.TestConnection != nil {
		testConnection = *req.TestConnection
	}

	report := h.tracker.DiscoverServers(maxServers, testConnection)
	resp := newServerList(report, time.Now().UTC())

	if h.store != nil && testConnection {
		if err := h.store.RecordServerList(c.Request.Context(), serverListDocument(resp)); err != nil {
			h.logger.WithError(err).Warn("server list persistence failed")
		}
	}

	c.JSON(http.StatusOK, respond(resp, ""))
}

// queryError maps a tracker error onto an HTTP status and the error
// envelope. A malformed address is the caller's fault, a connect failure
// anywhere in the chain means no server was reachable, and anything else
// is an upstream query failure.
func queryError(err error) (int, ErrorResponse) {
	switch {
	case errors.IsType(err, errors.ErrorTypeInvalidAddress):
		return http.StatusBadRequest, respondError("invalid_address", svcMessage(err))
	case errors.HasType(err, errors.ErrorTypeConnection):
		return http.StatusServiceUnavailable,
			respondError("connection_failed", "no reachable Electrum server")
	default:
		return http.StatusBadGateway, respondError("query_failed", "Electrum query failed")
	}
}

// svcMessage extracts the outermost service error message, falling back
// to the raw error string.
func svcMessage(err error) string {
	if svcErr, ok := err.(*errors.ServiceError); ok {
		return svcErr.Message
	}
	return err.Error()
}

// historyPage parses the limit and offset query parameters.
func historyPage(c *gin.Context) (limit, offset int, err error) {
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		return 0, 0, fmt.Errorf("limit must be an integer between 1 and %d", maxHistoryLimit)
	}

	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("offset must be a non-negative integer")
	}

	return limit, offset, nil
}

// serverListDocument converts a discovery response into the persisted
// server list document.
func serverListDocument(resp ServerListResponse) *redis.ServerList {
	doc := &redis.ServerList{
		Servers:   make([]redis.ServerEntry, 0, len(resp.Servers)),
		UpdatedAt: resp.Timestamp,
	}
	for _, s := range resp.Servers {
		doc.Servers = append(doc.Servers, redis.ServerEntry{
			Host:           s.Host,
			Port:           s.Port,
			Transport:      s.Transport,
			HealthScore:    s.HealthScore,
			LatencySeconds: s.LatencySeconds,
			Version:        s.Version,
		})
	}
	return doc
}
