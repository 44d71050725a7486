package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainClient_ReverseResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/reverse/" + testAddress:
			fmt.Fprint(w, `{"name":"alice.mega"}`)
		case "/api/v1/reverse/0xlimited":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewDomainClient(server.URL, time.Second)

	name, err := client.ReverseResolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "alice.mega", name)

	name, err = client.ReverseResolve(context.Background(), "0x9999999999999999999999999999999999999999")
	require.NoError(t, err)
	assert.Empty(t, name)

	_, err = client.ReverseResolve(context.Background(), "0xlimited")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFarcasterClient_LookupByAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/farcaster/user/bulk_by_address", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))

		if r.URL.Query().Get("addresses") != testAddress {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"No users found"}`)
			return
		}
		fmt.Fprintf(w, `{%q:[{"fid":42,"username":"alice"}]}`, testAddress)
	}))
	defer server.Close()

	client := NewFarcasterClient(server.URL, "secret", time.Second)

	profile, err := client.LookupByAddress(context.Background(), testAddress)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, int64(42), profile.FID)
	assert.Equal(t, "alice", profile.Username)

	profile, err = client.LookupByAddress(context.Background(), "0x9999999999999999999999999999999999999999")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestFarcasterClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewFarcasterClient(server.URL, "", time.Second)
	_, err := client.LookupByAddress(context.Background(), testAddress)
	assert.Error(t, err)
}

func TestIdentityClients_MislabeledContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		switch r.URL.Path {
		case "/api/v1/reverse/" + testAddress:
			fmt.Fprint(w, `{"name":"alice.mega"}`)
		case "/v2/farcaster/user/bulk_by_address":
			fmt.Fprintf(w, `{%q:[{"fid":7,"username":"bob"}]}`, testAddress)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	name, err := NewDomainClient(server.URL, time.Second).ReverseResolve(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "alice.mega", name)

	profile, err := NewFarcasterClient(server.URL, "", time.Second).LookupByAddress(context.Background(), testAddress)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "bob", profile.Username)
}

func TestDomainClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer server.Close()

	_, err := NewDomainClient(server.URL, time.Second).ReverseResolve(context.Background(), testAddress)
	assert.Error(t, err)
}
