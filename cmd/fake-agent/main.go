// ABOUTME: Minimal fake backup agent for E2E testing the controller.
// ABOUTME: Usage: fake-agent [-id web1] [-port 9000] [-discovery 7355]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/Baron-Systems/fb/internal/protocol"
	"github.com/Baron-Systems/fb/internal/registry"
)

func main() {
	agentID := flag.String("id", "fake-agent", "Agent ID")
	port := flag.Int("port", 9000, "HTTP port to serve the agent API on")
	discoveryPort := flag.Int("discovery", 7355, "Controller discovery UDP port")
	reannounce := flag.Bool("reannounce", false, "Skip discovery and reannounce with a known secret")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *agentID, *port, *discoveryPort, *reannounce); err != nil {
		log.Fatal(err)
	}
}

type agent struct {
	id     string
	port   int
	secret string
}

func run(ctx context.Context, agentID string, port, discoveryPort int, reannounce bool) error {
	a := &agent{id: agentID, port: port}

	dashboardURL, token, err := discover(ctx, agentID, port, discoveryPort)
	if err != nil {
		return fmt.Errorf("discovering controller: %w", err)
	}
	fmt.Fprintf(os.Stderr, "got offer from %s\n", dashboardURL)

	if reannounce {
		token = registry.ReannounceToken
	}
	secret, err := register(ctx, dashboardURL, agentID, port, token)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	a.secret = secret
	fmt.Fprintf(os.Stderr, "registered as %s\n", agentID)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/backup_site", a.signed(a.handleBackupSite))
	mux.HandleFunc("GET /api/list_sites", a.signed(a.handleListSites))
	mux.HandleFunc("GET /api/pull_artifact", a.signed(a.handlePullArtifact))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "serving agent api on :%d\n", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// discover broadcasts a hello and waits for the controller's offer.
func discover(ctx context.Context, agentID string, port, discoveryPort int) (dashboardURL, token string, err error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return "", "", err
	}
	defer conn.Close()

	hello, _ := json.Marshal(map[string]any{
		"type":     "agent.hello",
		"agent_id": agentID,
		"port":     port,
	})
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: discoveryPort}
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: discoveryPort}

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		default:
		}

		// Broadcast plus loopback, so a controller on the same host hears us.
		_, _ = conn.WriteToUDP(hello, dst)
		_, _ = conn.WriteToUDP(hello, local)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		var offer struct {
			Type         string `json:"type"`
			DashboardURL string `json:"dashboard_url"`
			Token        string `json:"token"`
		}
		if json.Unmarshal(buf[:n], &offer) != nil || offer.Type != "dashboard.offer" {
			continue
		}
		return offer.DashboardURL, offer.Token, nil
	}
}

// register exchanges the discovery token for a shared secret.
func register(ctx context.Context, dashboardURL, agentID string, port int, token string) (string, error) {
	hostname, _ := os.Hostname()
	payload, _ := json.Marshal(map[string]any{
		"token":    token,
		"agent_id": agentID,
		"port":     port,
		"meta":     map[string]any{"hostname": hostname, "fake": true},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		dashboardURL+"/api/agents/register", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("registration rejected: %s: %s", resp.Status, body)
	}

	var result struct {
		SharedSecret string `json:"shared_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.SharedSecret, nil
}

// signed verifies the controller's HMAC headers before invoking the handler.
// GET requests sign their query parameters as the canonical body.
func (a *agent) signed(next func(http.ResponseWriter, *http.Request, map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := strconv.ParseInt(r.Header.Get(protocol.HeaderTimestamp), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"bad timestamp"}`, http.StatusUnauthorized)
			return
		}
		sig := r.Header.Get(protocol.HeaderSignature)

		var body map[string]any
		if r.Method == http.MethodGet {
			q := r.URL.Query()
			if len(q) > 0 {
				body = make(map[string]any, len(q))
				for key := range q {
					body[key] = q.Get(key)
				}
			}
		} else {
			raw, err := io.ReadAll(r.Body)
			if err != nil || json.Unmarshal(raw, &body) != nil {
				http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
				return
			}
		}

		// An absent body must sign as the empty object, so pass a true nil
		// rather than a nil map boxed in an interface.
		var signedBody any
		if body != nil {
			signedBody = body
		}
		if !protocol.Verify(a.secret, ts, r.Method, r.URL.Path, signedBody, sig, time.Now()) {
			http.Error(w, `{"error":"bad signature"}`, http.StatusUnauthorized)
			return
		}
		next(w, r, body)
	}
}

// handleBackupSite pretends to back up a site and produces one artifact.
func (a *agent) handleBackupSite(w http.ResponseWriter, r *http.Request, body map[string]any) {
	stack, _ := body["stack"].(string)
	site, _ := body["site"].(string)
	fmt.Fprintf(os.Stderr, "backup requested: %s/%s\n", stack, site)

	artifact, err := writeFakeArtifact(site)
	if err != nil {
		writeJSON(w, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	writeJSON(w, map[string]any{
		"ok":         true,
		"artifacts":  []map[string]any{{"path": artifact}},
		"duration_s": 0.1,
	})
}

func (a *agent) handleListSites(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	writeJSON(w, map[string]any{
		"sites": []map[string]string{
			{"stack": "main", "site": "one.example"},
			{"stack": "main", "site": "two.example"},
		},
	})
}

func (a *agent) handlePullArtifact(w http.ResponseWriter, r *http.Request, body map[string]any) {
	path, _ := body["path"].(string)
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, `{"error":"no such artifact"}`, http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, f)
}

func writeFakeArtifact(site string) (string, error) {
	f, err := os.CreateTemp("", "fake-agent-*.sql.gz")
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "-- fake dump for %s at %s\n", site, time.Now().UTC().Format(time.RFC3339))
	return f.Name(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
