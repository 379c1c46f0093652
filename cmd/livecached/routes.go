package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/livecache"
	"github.com/unkn0wn-root/livecache/consumers"
	zaplog "github.com/unkn0wn-root/livecache/log/zap"
	"github.com/unkn0wn-root/livecache/push"
)

type cartResponse struct {
	Items    []consumers.CartItem `json:"items"`
	Subtotal int64                `json:"subtotal"`
}

type stateResponse struct {
	Key      string `json:"key"`
	Cached   bool   `json:"cached"`
	Fetching bool   `json:"fetching"`
	Mutating bool   `json:"mutating"`
}

func newRouter(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	v1 := e.Group("/v1")
	v1.GET("/cart/:user", a.getCart)
	v1.POST("/cart/:user/items/:id/increment", a.incrementCartItem)
	v1.DELETE("/cart/:user/items/:id", a.removeCartItem)
	v1.GET("/products", a.listProducts)
	v1.POST("/products/:id/favorite", a.toggleFavorite)
	v1.POST("/events", a.postEvent)
	v1.GET("/debug/state/:key", a.debugState)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	return e
}

func (a *app) cartResponse(user string, items []consumers.CartItem) cartResponse {
	total, _ := a.cart.Subtotal(user)
	if items == nil {
		items = []consumers.CartItem{}
	}
	return cartResponse{Items: items, Subtotal: total}
}

func (a *app) getCart(c echo.Context) error {
	user := c.Param("user")
	items, err := a.cart.Load(c.Request().Context(), user)
	if err != nil {
		return a.httpError(err)
	}
	return c.JSON(http.StatusOK, a.cartResponse(user, items))
}

func (a *app) incrementCartItem(c echo.Context) error {
	ctx := c.Request().Context()
	user := c.Param("user")
	if _, err := a.cart.Load(ctx, user); err != nil {
		return a.httpError(err)
	}
	if err := a.cart.Increment(ctx, user, c.Param("id")); err != nil {
		return a.httpError(err)
	}
	items, _ := a.carts.Get(consumers.CartKey(user))
	return c.JSON(http.StatusOK, a.cartResponse(user, items))
}

func (a *app) removeCartItem(c echo.Context) error {
	ctx := c.Request().Context()
	user := c.Param("user")
	if _, err := a.cart.Load(ctx, user); err != nil {
		return a.httpError(err)
	}
	if err := a.cart.Remove(ctx, user, c.Param("id")); err != nil {
		return a.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *app) listProducts(c echo.Context) error {
	ctx := c.Request().Context()
	load := a.catalog.Load
	if c.QueryParam("refresh") == "1" {
		load = a.catalog.Refresh
	}
	products, err := load(ctx)
	if err != nil {
		return a.httpError(err)
	}
	if store := c.QueryParam("store"); store != "" {
		products = a.catalog.ByStore(store)
	}
	if products == nil {
		products = []consumers.Product{}
	}
	return c.JSON(http.StatusOK, products)
}

func (a *app) toggleFavorite(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := a.catalog.Load(ctx); err != nil {
		return a.httpError(err)
	}
	fav, err := a.catalog.ToggleFavorite(ctx, c.Param("id"))
	if err != nil {
		return a.httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"favorite": fav})
}

// postEvent accepts change events from webhooks that cannot reach Redis or Postgres.
func (a *app) postEvent(c echo.Context) error {
	var ev push.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := ev.Normalize(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := push.Deliver(c.Request().Context(), a.mux, ev, zaplog.New(a.log)); err != nil {
		return a.httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *app) debugState(c echo.Context) error {
	key := c.Param("key")
	var st livecache.KeyState
	var cached bool
	switch {
	case strings.HasPrefix(key, "cart:"):
		snap, _ := a.carts.Peek(key)
		st, cached = a.carts.State(key), snap.OK
	case strings.HasPrefix(key, "products:"):
		snap, _ := a.products.Peek(key)
		st, cached = a.products.State(key), snap.OK
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown keyspace")
	}
	return c.JSON(http.StatusOK, stateResponse{Key: key, Cached: cached, Fetching: st.Fetching, Mutating: st.Mutating})
}

func (a *app) httpError(err error) error {
	var fe *livecache.FetchError
	switch {
	case errors.Is(err, consumers.ErrItemNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, consumers.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, livecache.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case livecache.Reverted(err), errors.As(err, &fe):
		a.log.Warn("upstream failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		a.log.Error("request failed", zap.Error(err))
		return err
	}
}
