package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)
	return table
}

func TestTable_ResolveDefaultRoutes(t *testing.T) {
	table := defaultTable(t)

	cases := []struct {
		path     string
		upstream string
		profile  Profile
	}{
		{"/auth/login", "user-service", ProfilePublic},
		{"/users/me", "user-service", ProfileAuthenticated},
		{"/restaurants/12/menu", "restaurant-service", ProfileAuthenticated},
		{"/orders", "order-service", ProfileAuthenticated},
		{"/orders/5", "order-service", ProfileAuthenticated},
		{"/deliveries/7/assign", "delivery-service", ProfileAuthenticated},
		{"/ws/info", "notification-service", ProfilePublic},
		{"/actuator/health", GatewayUpstream, ProfileInfrastructure},
		{"/health", GatewayUpstream, ProfileInfrastructure},
	}

	for _, tc := range cases {
		rule, ok := table.Resolve(tc.path)
		require.True(t, ok, tc.path)
		assert.Equal(t, tc.upstream, rule.Upstream, tc.path)
		assert.Equal(t, tc.profile, rule.Profile, tc.path)
	}
}

func TestTable_FilterProfiles(t *testing.T) {
	table := defaultTable(t)

	orders, _ := table.Resolve("/orders/1")
	assert.Equal(t, Filters{Authenticate: true, RateLimit: true, CircuitBreak: true}, orders.Filters)
	assert.False(t, orders.Local)

	login, _ := table.Resolve("/auth/login")
	assert.Equal(t, Filters{}, login.Filters)

	health, _ := table.Resolve("/actuator/health")
	assert.Equal(t, Filters{}, health.Filters)
	assert.True(t, health.Local)
}

func TestTable_NoMatch(t *testing.T) {
	table := defaultTable(t)

	for _, p := range []string{"/", "/ordersx", "/payments/1", "/order"} {
		_, ok := table.Resolve(p)
		assert.False(t, ok, p)
	}
}

func TestTable_ResolveIsDeterministic(t *testing.T) {
	table := defaultTable(t)

	first, ok := table.Resolve("/restaurants/3")
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		again, ok := table.Resolve("/restaurants/3")
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestTable_LongestPrefixThenRegistrationOrder(t *testing.T) {
	table, err := NewTable([]Rule{
		NewRule("catch-all", "/", "fallback", ProfilePublic),
		NewRule("orders", "/orders", "order-service", ProfileAuthenticated),
		NewRule("orders-export", "/orders/export", "reporting", ProfileAuthenticated),
		NewRule("orders-shadow", "/orders/", "shadow", ProfilePublic),
	})
	require.NoError(t, err)

	rule, _ := table.Resolve("/orders/export/csv")
	assert.Equal(t, "orders-export", rule.Name)

	// "/orders/" compiles to "/orders"; the earlier registration wins the tie
	rule, _ = table.Resolve("/orders/1")
	assert.Equal(t, "orders", rule.Name)

	rule, _ = table.Resolve("/menu")
	assert.Equal(t, "catch-all", rule.Name)
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable(nil)
	assert.Error(t, err)

	_, err = NewTable([]Rule{NewRule("", "/a", "x", ProfilePublic)})
	assert.Error(t, err)

	_, err = NewTable([]Rule{NewRule("a", "a", "x", ProfilePublic)})
	assert.Error(t, err)

	_, err = NewTable([]Rule{NewRule("a", "/a", "", ProfilePublic)})
	assert.Error(t, err)

	_, err = NewTable([]Rule{
		NewRule("a", "/a", "x", ProfilePublic),
		NewRule("a", "/b", "y", ProfilePublic),
	})
	assert.Error(t, err)
}

func TestTable_Upstreams(t *testing.T) {
	table := defaultTable(t)
	assert.Equal(t, []string{
		"user-service", "restaurant-service", "order-service", "delivery-service", "notification-service",
	}, table.Upstreams())
}

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/":                   "/",
		"orders":              "/orders",
		"/orders//5":          "/orders/5",
		"/auth/../users/me":   "/users/me",
		"/orders/":            "/orders/",
		"/auth/./login/../me": "/auth/me",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanPath(in), in)
	}
}

func TestPublicPaths_Contains(t *testing.T) {
	public := DefaultPublicPaths()

	for _, p := range []string{"/auth/login", "/actuator/health", "/ws/notifications", "/health", "/"} {
		assert.True(t, public.Contains(p), p)
	}
	for _, p := range []string{"/orders/1", "/auth", "/healthz", "/users/me"} {
		assert.False(t, public.Contains(p), p)
	}
}
