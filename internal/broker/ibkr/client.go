package ibkr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/types"
)

// IB API incoming message IDs.
const (
	msgTickPrice   = 1
	msgOrderStatus = 3
	msgErrMsg      = 4
	msgPosition    = 61
	msgPositionEnd = 62
)

// Tick types delivered by TICK_PRICE.
const (
	tickBid  = 1
	tickAsk  = 2
	tickLast = 4
)

// Client implements the broker.Session interface against TWS/Gateway.
type Client struct {
	cfg    Config
	logger *slog.Logger

	// Connection
	conn        net.Conn
	state       atomic.Int32
	stateMu     sync.RWMutex
	lastError   error
	connectedAt time.Time

	// Rate limiting
	limiter *rate.Limiter

	// Request IDs
	nextReqID atomic.Int64

	// Market data lines
	mdMu    sync.RWMutex
	mdLines map[int64]*quoteLine

	// Order status tracking
	ordersMu sync.RWMutex
	orders   map[string]*orderRecord

	// Positions
	positionsMu sync.RWMutex
	positions   []types.Position

	// Shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

type quoteLine struct {
	mu       sync.RWMutex
	tickerID int64
	quote    types.Quote
	client   *Client
	closed   bool
}

type orderRecord struct {
	report broker.StatusReport
}

// NewClient creates a new IBKR session client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		mdLines: make(map[int64]*quoteLine),
		orders:  make(map[string]*orderRecord),
		done:    make(chan struct{}),
	}

	c.state.Store(int32(broker.StateDisconnected))
	c.nextReqID.Store(1000)

	return c
}

// Connect establishes connection to TWS/Gateway.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateConnected {
		return nil
	}

	c.state.Store(int32(broker.StateConnecting))

	c.logger.Info("connecting to IBKR",
		"host", c.cfg.Host,
		"port", c.cfg.Port,
		"client_id", c.cfg.ClientID,
		"paper", c.cfg.PaperTrading,
	)

	dialer := net.Dialer{
		Timeout: c.cfg.ConnectTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		c.state.Store(int32(broker.StateError))
		c.lastError = fmt.Errorf("dial: %w", err)
		return fmt.Errorf("%w: %v", broker.ErrConnectionTimeout, err)
	}

	c.conn = conn
	c.connectedAt = time.Now()

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		c.state.Store(int32(broker.StateError))
		c.lastError = err
		return fmt.Errorf("handshake: %w", err)
	}

	c.state.Store(int32(broker.StateConnected))

	c.wg.Add(1)
	go c.readLoop()

	// Prime the position cache so the first close-all sees holdings.
	if err := c.requestPositions(); err != nil {
		c.logger.Warn("failed to request positions", "err", err)
	}

	c.logger.Info("connected to IBKR", "connected_at", c.connectedAt)

	return nil
}

// handshake performs the IB API v100+ connection handshake.
func (c *Client) handshake() error {
	handshake := []byte("API\x00")
	versionStr := fmt.Sprintf("v%d..%d", 100, 151)
	handshake = append(handshake, []byte(versionStr)...)
	handshake = append(handshake, 0)

	if _, err := c.conn.Write(handshake); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := c.conn.Read(buf)
	_ = c.conn.SetReadDeadline(time.Time{})

	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	c.logger.Debug("handshake response", "bytes", n)

	startAPI := c.buildStartAPIMessage(c.cfg.ClientID)
	if _, err := c.conn.Write(startAPI); err != nil {
		return fmt.Errorf("write startAPI: %w", err)
	}

	return nil
}

// buildStartAPIMessage creates the startAPI message.
func (c *Client) buildStartAPIMessage(clientID int) []byte {
	// Message format: size (4 bytes) + message ID + version + clientID
	msg := fmt.Sprintf("71\x002\x00%d\x00", clientID)
	return frameMessage(msg)
}

// frameMessage prepends the 4-byte big-endian size prefix.
func frameMessage(msg string) []byte {
	size := len(msg)
	result := make([]byte, 4+size)
	result[0] = byte(size >> 24)
	result[1] = byte(size >> 16)
	result[2] = byte(size >> 8)
	result[3] = byte(size)
	copy(result[4:], msg)
	return result
}

// readLoop reads messages from the connection.
func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			c.logger.Error("read error", "err", err)
			c.handleDisconnect()
			return
		}

		if n > 0 {
			c.processMessage(buf[:n])
		}
	}
}

// processMessage processes an incoming message. IB API fields are separated
// by null bytes; the first field is the message ID.
func (c *Client) processMessage(data []byte) {
	fields := bytes.Split(data, []byte{0})
	if len(fields) < 2 {
		c.logger.Debug("received incomplete message", "size", len(data))
		return
	}

	msgID, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		c.logger.Debug("invalid message ID", "data", string(fields[0]))
		return
	}

	switch msgID {
	case msgTickPrice:
		c.handleTickPrice(fields)
	case msgOrderStatus:
		c.handleOrderStatus(fields)
	case msgErrMsg:
		c.handleErrMsg(fields)
	case msgPosition:
		c.handlePosition(fields)
	case msgPositionEnd:
		// position snapshot complete, nothing to do
	default:
		c.logger.Debug("unhandled message type", "msg_id", msgID)
	}
}

// handleTickPrice routes bid/ask/last ticks into the matching quote line.
func (c *Client) handleTickPrice(fields [][]byte) {
	// Format: msgID, version, tickerID, tickType, price, size, attribs
	if len(fields) < 5 {
		return
	}

	tickerID, _ := strconv.ParseInt(string(fields[2]), 10, 64)
	tickType, _ := strconv.Atoi(string(fields[3]))

	price, err := decimal.NewFromString(string(fields[4]))
	if err != nil {
		return
	}
	// IB reports -1 for an empty book side; never surface it as a price.
	if price.IsNegative() || price.IsZero() {
		return
	}

	c.mdMu.RLock()
	line, ok := c.mdLines[tickerID]
	c.mdMu.RUnlock()
	if !ok {
		return
	}

	line.mu.Lock()
	switch tickType {
	case tickBid:
		line.quote.Bid = price
		line.quote.HasBid = true
	case tickAsk:
		line.quote.Ask = price
		line.quote.HasAsk = true
	case tickLast:
		line.quote.Last = price
		line.quote.HasLast = true
	}
	line.quote.Timestamp = time.Now()
	line.mu.Unlock()
}

// handleOrderStatus updates the tracked order's report. Terminal reports are
// frozen: a late status update never rewrites a terminal state, so repeated
// polling after completion stays stable.
func (c *Client) handleOrderStatus(fields [][]byte) {
	// Format: msgID, orderID, status, filled, remaining, avgFillPrice, ...
	if len(fields) < 6 {
		return
	}

	orderID := string(fields[1])
	status := string(fields[2])
	filled, _ := strconv.Atoi(string(fields[3]))
	avgPrice, _ := decimal.NewFromString(string(fields[5]))

	c.ordersMu.Lock()
	defer c.ordersMu.Unlock()

	rec, ok := c.orders[orderID]
	if !ok {
		return
	}
	if rec.report.Status.IsFinal() {
		return
	}

	rec.report.FilledQty = filled
	rec.report.AvgFillPrice = avgPrice
	rec.report.Status = mapOrderStatus(status, filled)

	c.logger.Debug("order status",
		"order_id", orderID,
		"status", status,
		"filled", filled,
		"avg_price", avgPrice,
	)
}

// mapOrderStatus translates IB status strings into the closed status enum.
func mapOrderStatus(status string, filled int) types.OrderStatus {
	switch status {
	case "Filled":
		return types.OrderStatusFilled
	case "Cancelled", "ApiCancelled":
		return types.OrderStatusCancelled
	case "Inactive":
		return types.OrderStatusRejected
	case "Submitted", "PreSubmitted", "PendingSubmit":
		if filled > 0 {
			return types.OrderStatusPartialFill
		}
		return types.OrderStatusSubmitted
	default:
		if filled > 0 {
			return types.OrderStatusPartialFill
		}
		return types.OrderStatusSubmitted
	}
}

// handleErrMsg attaches broker error text to the affected order as a
// rejection reason.
func (c *Client) handleErrMsg(fields [][]byte) {
	// Format: msgID, version, id, errorCode, errorMsg
	if len(fields) < 5 {
		return
	}

	orderID := string(fields[2])
	errorCode := string(fields[3])
	errorMsg := string(fields[4])

	c.ordersMu.Lock()
	defer c.ordersMu.Unlock()

	rec, ok := c.orders[orderID]
	if !ok {
		// id -1 is a general notification, not an order error
		c.logger.Debug("broker message", "code", errorCode, "msg", errorMsg)
		return
	}
	if rec.report.Status.IsFinal() {
		return
	}

	rec.report.Status = types.OrderStatusRejected
	rec.report.RejectReason = errorMsg

	c.logger.Warn("order rejected by broker",
		"order_id", orderID,
		"code", errorCode,
		"reason", errorMsg,
	)
}

// handlePosition updates the position cache.
func (c *Client) handlePosition(fields [][]byte) {
	// Format: msgID, version, account, conId, symbol, secType, expiry, strike,
	// right, multiplier, exchange, currency, localSymbol, tradingClass,
	// position, avgCost
	if len(fields) < 16 {
		return
	}

	conID, _ := strconv.ParseInt(string(fields[3]), 10, 64)
	symbol := string(fields[4])
	signedQty, _ := strconv.Atoi(string(fields[14]))
	avgCost, _ := decimal.NewFromString(string(fields[15]))

	c.positionsMu.Lock()
	defer c.positionsMu.Unlock()

	for i, p := range c.positions {
		if p.ContractID == conID {
			if signedQty == 0 {
				c.positions = append(c.positions[:i], c.positions[i+1:]...)
			} else {
				c.positions[i].SignedQty = signedQty
				c.positions[i].AvgCost = avgCost
			}
			return
		}
	}

	if signedQty != 0 {
		c.positions = append(c.positions, types.Position{
			ContractID: conID,
			Symbol:     symbol,
			SignedQty:  signedQty,
			AvgCost:    avgCost,
		})
	}
}

// handleDisconnect handles connection loss.
func (c *Client) handleDisconnect() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateDisconnected {
		return
	}

	c.state.Store(int32(broker.StateDisconnected))
	c.logger.Warn("disconnected from IBKR")

	if c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect.
func (c *Client) reconnectLoop() {
	for i := 0; i < c.cfg.MaxReconnectTries; i++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.logger.Info("attempting reconnect", "attempt", i+1)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected successfully")
			return
		}

		c.logger.Warn("reconnect failed", "err", err)
	}

	c.logger.Error("max reconnect attempts reached")
}

// sendMessage sends a framed message to TWS/Gateway.
func (c *Client) sendMessage(msg string) error {
	if c.State() != broker.StateConnected {
		return broker.ErrNotConnected
	}

	if err := c.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	_, err := c.conn.Write(frameMessage(msg))
	return err
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateDisconnected {
		return nil
	}

	close(c.done)

	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.wg.Wait()
	c.state.Store(int32(broker.StateDisconnected))

	c.logger.Info("disconnected from IBKR")
	return nil
}

// State returns the current connection state.
func (c *Client) State() broker.ConnectionState {
	return broker.ConnectionState(c.state.Load())
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.State() == broker.StateConnected
}

// PlaceOrder submits an order and registers it for status tracking.
func (c *Client) PlaceOrder(_ context.Context, contract broker.Contract, req types.OrderRequest) (broker.OrderHandle, error) {
	if !c.IsConnected() {
		return broker.OrderHandle{}, broker.ErrNotConnected
	}
	if req.Quantity <= 0 {
		return broker.OrderHandle{}, types.ErrInvalidQuantity
	}

	orderID := c.nextReqID.Add(1)
	orderIDStr := strconv.FormatInt(orderID, 10)

	// Register before sending so a fast status message is never dropped.
	c.ordersMu.Lock()
	c.orders[orderIDStr] = &orderRecord{
		report: broker.StatusReport{Status: types.OrderStatusSubmitted},
	}
	c.ordersMu.Unlock()

	msg := c.buildPlaceOrderMessage(orderID, contract, req)
	if err := c.sendMessage(msg); err != nil {
		c.ordersMu.Lock()
		delete(c.orders, orderIDStr)
		c.ordersMu.Unlock()
		return broker.OrderHandle{}, fmt.Errorf("send order: %w", err)
	}

	c.logger.Info("order placed",
		"order_id", orderID,
		"client_order_id", req.ClientOrderID,
		"symbol", contract.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"mode", req.Mode,
		"limit_price", req.LimitPrice,
	)

	return broker.OrderHandle{
		OrderID:       orderIDStr,
		ClientOrderID: req.ClientOrderID,
		SubmittedAt:   time.Now(),
	}, nil
}

// buildPlaceOrderMessage builds a PLACE_ORDER message for a market or limit
// order.
func (c *Client) buildPlaceOrderMessage(orderID int64, contract broker.Contract, req types.OrderRequest) string {
	orderType := "MKT"
	limitPrice := ""
	if req.Mode == types.PricingLimit {
		orderType = "LMT"
		limitPrice = req.LimitPrice.String()
	}

	// PLACE_ORDER = 3
	return fmt.Sprintf("3\x0045\x00%d\x000\x00%s\x00%s\x00\x00%s\x00%s\x00%s\x00%d\x00\x00\x00%s\x00%d\x00%s\x00%s\x00\x00\x00\x00\x00\x00\x00\x00DAY\x00\x00\x00\x000\x000\x00%s\x000\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00",
		orderID,
		contract.Symbol,
		contract.SecType,
		contract.Expiry,
		contract.Exchange,
		contract.Currency,
		contract.Multiplier,
		req.Side.String(),
		req.Quantity,
		orderType,
		limitPrice,
		req.ClientOrderID,
	)
}

// OrderStatus returns the tracked order's current report.
func (c *Client) OrderStatus(_ context.Context, handle broker.OrderHandle) (broker.StatusReport, error) {
	c.ordersMu.RLock()
	defer c.ordersMu.RUnlock()

	rec, ok := c.orders[handle.OrderID]
	if !ok {
		return broker.StatusReport{}, broker.ErrUnknownOrder
	}

	return rec.report, nil
}

// SubscribeQuote opens a market data line for the contract.
func (c *Client) SubscribeQuote(_ context.Context, contract broker.Contract) (broker.QuoteSub, error) {
	if !c.IsConnected() {
		return nil, broker.ErrNotConnected
	}

	tickerID := c.nextReqID.Add(1)
	line := &quoteLine{
		tickerID: tickerID,
		client:   c,
	}

	c.mdMu.Lock()
	c.mdLines[tickerID] = line
	c.mdMu.Unlock()

	if err := c.requestMarketData(tickerID, contract); err != nil {
		c.mdMu.Lock()
		delete(c.mdLines, tickerID)
		c.mdMu.Unlock()
		return nil, err
	}

	c.logger.Debug("quote line opened",
		"symbol", contract.Symbol,
		"ticker_id", tickerID,
	)

	return line, nil
}

// requestMarketData sends a REQ_MKT_DATA message.
func (c *Client) requestMarketData(tickerID int64, contract broker.Contract) error {
	// REQ_MKT_DATA = 1
	msg := fmt.Sprintf("1\x0011\x00%d\x000\x00%s\x00%s\x00\x00%s\x00%s\x00%s\x00%d\x00\x00\x00\x00\x00\x000\x00\x00\x00",
		tickerID,
		contract.Symbol,
		contract.SecType,
		contract.Expiry,
		contract.Exchange,
		contract.Currency,
		contract.Multiplier,
	)

	return c.sendMessage(msg)
}

// Snapshot returns the current quote on this line.
func (l *quoteLine) Snapshot() types.Quote {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quote
}

// Close cancels the market data request and releases the line.
func (l *quoteLine) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	c := l.client

	c.mdMu.Lock()
	delete(c.mdLines, l.tickerID)
	c.mdMu.Unlock()

	// CANCEL_MKT_DATA = 2
	msg := fmt.Sprintf("2\x001\x00%d\x00", l.tickerID)
	if err := c.sendMessage(msg); err != nil {
		return err
	}

	c.logger.Debug("quote line closed", "ticker_id", l.tickerID)
	return nil
}

// requestPositions sends a REQ_POSITIONS message.
func (c *Client) requestPositions() error {
	// REQ_POSITIONS = 61
	return c.sendMessage("61\x001\x00")
}

// Positions returns the current non-zero holdings. The cache is refreshed
// asynchronously by the read loop; a refresh request is issued on each call.
func (c *Client) Positions(_ context.Context) ([]types.Position, error) {
	if !c.IsConnected() {
		return nil, broker.ErrNotConnected
	}

	if err := c.requestPositions(); err != nil {
		c.logger.Warn("position refresh request failed", "err", err)
	}

	c.positionsMu.RLock()
	defer c.positionsMu.RUnlock()

	out := make([]types.Position, 0, len(c.positions))
	for _, p := range c.positions {
		if p.SignedQty != 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// Shutdown gracefully shuts down the client.
func (c *Client) Shutdown(_ context.Context) error {
	c.logger.Info("shutting down IBKR client")

	c.mdMu.Lock()
	lines := make([]*quoteLine, 0, len(c.mdLines))
	for _, line := range c.mdLines {
		lines = append(lines, line)
	}
	c.mdMu.Unlock()

	for _, line := range lines {
		_ = line.Close()
	}

	return c.Disconnect()
}

// Ensure Client implements broker.Session
var _ broker.Session = (*Client)(nil)
