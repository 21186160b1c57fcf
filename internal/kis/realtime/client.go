// Package realtime KIS 实时行情 WebSocket 客户端。
//
// 客户端维护唯一一条物理连接和 (频道, key) 订阅表；连接异常断开后由单个后台
// worker 按固定间隔重连，重连成功后重放订阅表。本地主动断开不会重连，并清空订阅表。
package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected 当前没有可用连接
var ErrNotConnected = errors.New("realtime feed not connected")

// State 连接状态
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ApprovalKeyFunc 返回当前有效的 approval key
type ApprovalKeyFunc func(ctx context.Context) (string, error)

// Config 客户端配置
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	ReadBufferSize       int
	WriteBufferSize      int
	ProxyURL             string
}

// DefaultConfig 默认配置：最多重连 10 次，每次间隔 5 秒
func DefaultConfig(wsURL string) Config {
	return Config{
		URL:                  wsURL,
		MaxReconnectAttempts: 10,
		ReconnectDelay:       5 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
	}
}

// Subscription 一个 (频道, key) 订阅
type Subscription struct {
	Channel string `json:"channel"`
	Key     string `json:"key"`
}

// Client 实时行情客户端
type Client struct {
	cfg         Config
	approvalKey ApprovalKeyFunc
	dialer      websocket.Dialer

	// dialMu 保证同一时刻只有一次拨号
	dialMu sync.Mutex
	// replayMu 让订阅写入与重放互斥，新订阅只会发送一次
	replayMu sync.Mutex

	// mu 保护 state/conn/gen/attempts
	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	gen      uint64
	attempts int

	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]map[string]struct{}

	hmu           sync.RWMutex
	tickHandlers  []func(Tick)
	ackHandlers   []func(Ack)
	stateHandlers []func(State)
	badHandlers   []func(raw string, err error)
	tickChans     map[chan Tick]struct{}

	reconnectCh chan struct{}
	stopCh      chan struct{}
	workerOnce  sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup

	log *logrus.Entry
}

// NewClient 创建客户端
func NewClient(cfg Config, approvalKey ApprovalKeyFunc) (*Client, error) {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	dialer := websocket.Dialer{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid proxy url")
		}
		dialer.Proxy = http.ProxyURL(u)
	}
	return &Client{
		cfg:         cfg,
		approvalKey: approvalKey,
		dialer:      dialer,
		subs:        make(map[string]map[string]struct{}),
		tickChans:   make(map[chan Tick]struct{}),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		log:         logrus.WithField("component", "realtime"),
	}, nil
}

// ---- 回调注册 ----

// OnTick 注册数据帧回调
func (c *Client) OnTick(fn func(Tick)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.tickHandlers = append(c.tickHandlers, fn)
}

// OnAck 注册控制消息回调
func (c *Client) OnAck(fn func(Ack)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.ackHandlers = append(c.ackHandlers, fn)
}

// OnState 注册状态变化回调
func (c *Client) OnState(fn func(State)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// OnInvalidFrame 注册坏帧回调
func (c *Client) OnInvalidFrame(fn func(raw string, err error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.badHandlers = append(c.badHandlers, fn)
}

// Ticks 以通道方式订阅数据帧。消费过慢时丢弃新帧。调用返回的 cancel 关闭通道。
func (c *Client) Ticks(buffer int) (<-chan Tick, func()) {
	ch := make(chan Tick, buffer)
	c.hmu.Lock()
	c.tickChans[ch] = struct{}{}
	c.hmu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.hmu.Lock()
			delete(c.tickChans, ch)
			c.hmu.Unlock()
			close(ch)
		})
	}
}

// ---- 状态 ----

// State 当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// ReconnectAttempts 当前这一轮已经尝试的重连次数
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) emitState(s State) {
	c.hmu.RLock()
	handlers := append([]func(State){}, c.stateHandlers...)
	c.hmu.RUnlock()
	for _, fn := range handlers {
		fn(s)
	}
}

// ---- 连接管理 ----

// Connect 建立连接；已连接或正在连接时直接返回。
// 显式调用会重置重连计数，因此也用于从 Failed 状态恢复。
// 重连进行中时不另行拨号，只重置计数并唤醒重连 worker。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connected, Connecting:
		c.mu.Unlock()
		return nil
	case Reconnecting:
		c.attempts = 0
		c.mu.Unlock()
		c.wakeReconnect()
		return nil
	}
	c.state = Connecting
	c.attempts = 0
	c.mu.Unlock()
	c.emitState(Connecting)

	c.log.Infof("连接实时行情: %s", c.cfg.URL)
	if err := c.dial(ctx); err != nil {
		c.log.WithError(err).Error("实时行情连接失败")
		c.scheduleReconnect(Connecting)
		return err
	}
	return nil
}

// dial 拨号并在成功后激活连接、重放订阅。已经连上时直接返回。
func (c *Client) dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.State() == Connected {
		return nil
	}

	header := make(http.Header)
	header.Set("User-Agent", "kisbot/1.0")
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return errors.Wrap(err, "dial realtime feed")
	}

	c.replayMu.Lock()
	c.mu.Lock()
	if c.state != Connecting && c.state != Reconnecting {
		// 拨号期间被 Disconnect
		c.mu.Unlock()
		c.replayMu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	prev := c.conn
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempts = 0
	c.state = Connected
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	c.wg.Add(1)
	go c.readLoop(conn, gen)

	c.resubscribe(ctx)
	c.replayMu.Unlock()

	c.log.Info("实时行情已连接")
	c.emitState(Connected)
	return nil
}

// Disconnect 主动关闭连接并清空订阅表，不会触发重连
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	prev := c.state
	c.conn = nil
	c.gen++
	c.state = Disconnected
	c.attempts = 0
	c.mu.Unlock()

	c.subMu.Lock()
	c.subs = make(map[string]map[string]struct{})
	c.subMu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
		c.log.Info("实时行情连接已关闭")
	}
	if prev != Disconnected {
		c.emitState(Disconnected)
	}
}

// Close 断开连接并停止后台 worker
func (c *Client) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.stopCh) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		c.log.Warn("等待实时行情 goroutine 退出超时")
	}
}

// scheduleReconnect 仅当状态仍为 from 时进入 Reconnecting 并唤醒重连 worker
func (c *Client) scheduleReconnect(from State) {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return
	}
	c.state = Reconnecting
	c.mu.Unlock()
	c.emitState(Reconnecting)

	c.workerOnce.Do(func() {
		c.wg.Add(1)
		go c.reconnectWorker()
	})
	c.wakeReconnect()
}

func (c *Client) wakeReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// reconnectWorker 唯一的重连 goroutine，同一时刻最多一个重连在进行
func (c *Client) reconnectWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.reconnectCh:
			c.reconnectLoop()
		}
	}
}

func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.state != Reconnecting {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.cfg.MaxReconnectAttempts {
			c.state = Failed
			c.mu.Unlock()
			c.log.Errorf("重连 %d 次均失败，停止重连，需要手动 Connect", c.cfg.MaxReconnectAttempts)
			c.emitState(Failed)
			return
		}
		c.attempts++
		n := c.attempts
		c.mu.Unlock()

		c.log.Infof("%s 后重连 (%d/%d)", c.cfg.ReconnectDelay, n, c.cfg.MaxReconnectAttempts)
		select {
		case <-c.stopCh:
			return
		case <-c.reconnectCh:
			// Connect 唤醒，立即拨号
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if c.State() != Reconnecting {
			return
		}
		timeout := c.cfg.HandshakeTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		c.log.WithError(err).Warnf("第 %d 次重连失败", n)
	}
}

// readLoop 每条连接一个读循环；gen 用于识别连接是否已被替换
func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	defer c.wg.Done()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen
			if !stale {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			if stale {
				return
			}
			c.log.WithError(err).Warn("实时行情连接断开")
			c.scheduleReconnect(Connected)
			return
		}
		if !c.current(gen) {
			// 连接已被替换，丢弃剩余帧
			_ = conn.Close()
			return
		}
		c.handleMessage(conn, msg)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// ---- 订阅 ----

// Subscribe 订阅 (频道, key)；未连接时先连接。订阅会在重连后自动恢复。
func (c *Client) Subscribe(ctx context.Context, channel, key string) error {
	if !c.IsConnected() {
		c.log.Warn("实时行情未连接，先建立连接")
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	c.subMu.Lock()
	keys, ok := c.subs[channel]
	if !ok {
		keys = make(map[string]struct{})
		c.subs[channel] = keys
	}
	keys[key] = struct{}{}
	c.subMu.Unlock()

	c.log.Infof("订阅 %s %s", channel, key)
	err := c.send(ctx, trTypeSubscribe, channel, key)
	if errors.Is(err, ErrNotConnected) {
		// 已记录在订阅表中，连接建立后会重放
		return nil
	}
	return err
}

// Unsubscribe 退订并从订阅表移除
func (c *Client) Unsubscribe(ctx context.Context, channel, key string) error {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	c.subMu.Lock()
	if keys, ok := c.subs[channel]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.subs, channel)
		}
	}
	c.subMu.Unlock()

	c.log.Infof("退订 %s %s", channel, key)
	err := c.send(ctx, trTypeUnsubscribe, channel, key)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Subscriptions 订阅表快照
func (c *Client) Subscriptions() []Subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	var out []Subscription
	for ch, keys := range c.subs {
		for k := range keys {
			out = append(out, Subscription{Channel: ch, Key: k})
		}
	}
	return out
}

// SubscriptionCount 订阅数量
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	n := 0
	for _, keys := range c.subs {
		n += len(keys)
	}
	return n
}

func (c *Client) resubscribe(ctx context.Context) {
	subs := c.Subscriptions()
	if len(subs) == 0 {
		return
	}
	c.log.Infof("恢复 %d 个订阅", len(subs))
	for _, s := range subs {
		if err := c.send(ctx, trTypeSubscribe, s.Channel, s.Key); err != nil {
			c.log.WithError(err).Warnf("恢复订阅失败 %s %s", s.Channel, s.Key)
		}
	}
}

func (c *Client) send(ctx context.Context, trType, channel, key string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	approval, err := c.approvalKey(ctx)
	if err != nil {
		return err
	}
	return c.write(conn, newControlFrame(approval, trType, channel, key))
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return errors.Wrap(err, "write control frame")
	}
	return nil
}

// ---- 入站消息 ----

func (c *Client) handleMessage(conn *websocket.Conn, msg []byte) {
	// 单帧处理失败不能影响连接
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("处理实时消息 panic: %v", r)
		}
	}()

	if len(msg) > 0 && msg[0] == '{' {
		ack, err := ParseAck(msg)
		if err != nil {
			c.invalid(string(msg), err)
			return
		}
		if ack.TRID == pingPongTRID {
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			c.writeMu.Unlock()
			return
		}
		c.log.Infof("订阅应答 tr_id=%s key=%s code=%s msg=%s", ack.TRID, ack.TRKey, ack.MsgCode, ack.Message)
		c.hmu.RLock()
		handlers := append([]func(Ack){}, c.ackHandlers...)
		c.hmu.RUnlock()
		for _, fn := range handlers {
			fn(ack)
		}
		return
	}

	raw := string(msg)
	tick, err := ParseTick(raw)
	if err != nil {
		c.invalid(raw, err)
		return
	}

	c.hmu.RLock()
	handlers := append([]func(Tick){}, c.tickHandlers...)
	for ch := range c.tickChans {
		select {
		case ch <- tick:
		default:
		}
	}
	c.hmu.RUnlock()
	for _, fn := range handlers {
		fn(tick)
	}
}

func (c *Client) invalid(raw string, err error) {
	if len(raw) > 200 {
		raw = raw[:200]
	}
	c.log.WithError(err).Warnf("丢弃无效帧: %s", strings.TrimSpace(raw))
	c.hmu.RLock()
	handlers := append([]func(string, error){}, c.badHandlers...)
	c.hmu.RUnlock()
	for _, fn := range handlers {
		fn(raw, err)
	}
}
