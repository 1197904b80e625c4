package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockResolver struct {
	calls       int
	CountryFunc func(ctx context.Context, ip string) (string, error)
}

func (m *mockResolver) Country(ctx context.Context, ip string) (string, error) {
	m.calls++
	return m.CountryFunc(ctx, ip)
}

func TestCache_Country(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &mockResolver{CountryFunc: func(ctx context.Context, ip string) (string, error) {
		switch ip {
		case "81.2.69.142":
			return "GB", nil
		case "10.0.0.1":
			return "", nil
		}
		return "", errors.New("lookup failed")
	}}
	c := NewCache(client, next, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name      string
		ip        string
		want      string
		wantErr   bool
		wantCalls int
	}{
		{"miss goes to resolver", "81.2.69.142", "GB", false, 1},
		{"hit skips resolver", "81.2.69.142", "GB", false, 1},
		{"unknown cached as empty", "10.0.0.1", "", false, 2},
		{"unknown hit", "10.0.0.1", "", false, 2},
		{"resolver error not cached", "192.0.2.1", "", true, 3},
		{"resolver error retried", "192.0.2.1", "", true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Country(ctx, tt.ip)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Country() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Country() = %q, want %q", got, tt.want)
			}
			if next.calls != tt.wantCalls {
				t.Errorf("resolver calls = %d, want %d", next.calls, tt.wantCalls)
			}
		})
	}

	if ttl := mr.TTL("geo:81.2.69.142"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestCache_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	next := &mockResolver{CountryFunc: func(ctx context.Context, ip string) (string, error) { return "DE", nil }}
	got, err := NewCache(client, next, 0).Country(context.Background(), "5.9.0.1")
	if err != nil || got != "DE" {
		t.Errorf("Country() = %q, %v; want DE", got, err)
	}
}
