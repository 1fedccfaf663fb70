package indengine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"synthtrend/internal/indicator"
	"synthtrend/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pairInfo is one entry of GET /pairs.
type pairInfo struct {
	Config          indicator.PairConfig `json:"config"`
	ShortName       string               `json:"short_name"`
	Bars            int                  `json:"bars"`
	MinHistoryDepth int                  `json:"min_history_depth"`
	Latest          *model.TrendResult   `json:"latest,omitempty"`
}

// router builds the HTTP API.
func (svc *Service) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapH(svc.health))
	r.GET("/metrics", gin.WrapH(svc.prom.Handler()))
	r.GET("/pairs", svc.handlePairs)
	r.GET("/pairs/:name", svc.handlePair)
	r.POST("/reload", svc.handleReload)
	r.GET("/ws", svc.handleWS)
	return r
}

// serveHTTP runs the API until ctx is cancelled.
func (svc *Service) serveHTTP(ctx context.Context) error {
	srv := &http.Server{Addr: svc.cfg.HTTPAddr, Handler: svc.router()}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	svc.log.Info("HTTP server listening", "addr", svc.cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (svc *Service) info(name string) (pairInfo, bool) {
	p, ok := svc.engine.Pair(name)
	if !ok {
		return pairInfo{}, false
	}
	info := pairInfo{
		Config:          p.Config(),
		ShortName:       p.ShortName(),
		Bars:            p.Count(),
		MinHistoryDepth: p.MinHistoryDepth(),
	}
	if r, ok := svc.engine.Latest(name); ok {
		info.Latest = &r
	}
	return info, true
}

func (svc *Service) handlePairs(c *gin.Context) {
	configs := svc.engine.Configs()
	out := make([]pairInfo, 0, len(configs))
	for _, cfg := range configs {
		if info, ok := svc.info(cfg.Name); ok {
			out = append(out, info)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (svc *Service) handlePair(c *gin.Context) {
	info, ok := svc.info(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pair"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (svc *Service) handleReload(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pairs, err := decodePairs(body)
	if err != nil {
		svc.prom.ConfigReloads.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, svc.reload(c.Request.Context(), pairs))
}

// handleWS streams trend results to a chart client. ?pairs=a,b limits the
// stream to the named pairs; ?live=false drops results of forming bars.
func (svc *Service) handleWS(c *gin.Context) {
	filter := newResultFilter(c.Query("pairs"), c.Query("live") != "false")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		svc.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	id, ch := svc.fanout.Subscribe()
	svc.log.Info("ws client connected", "subscriber", id, "remote", c.Request.RemoteAddr)

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, ch, filter, done)

	svc.fanout.Unsubscribe(id)
	svc.log.Info("ws client disconnected", "subscriber", id)
}

type resultFilter struct {
	pairs map[string]bool
	live  bool
}

func newResultFilter(pairs string, live bool) resultFilter {
	f := resultFilter{live: live}
	for _, p := range strings.Split(pairs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			if f.pairs == nil {
				f.pairs = make(map[string]bool)
			}
			f.pairs[p] = true
		}
	}
	return f
}

func (f resultFilter) match(r *model.TrendResult) bool {
	if r.Live && !f.live {
		return false
	}
	return f.pairs == nil || f.pairs[r.Pair]
}

func writePump(conn *websocket.Conn, ch <-chan model.TrendResult, f resultFilter, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case r, ok := <-ch:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !f.match(&r) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, r.JSON()); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and keeps the read deadline alive via
// pongs. done is closed when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
