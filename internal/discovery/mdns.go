// ABOUTME: mDNS discovery of coview relays on the local network
// ABOUTME: Relays advertise _coview._tcp with their room; participants browse for them
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	log "github.com/sirupsen/logrus"
)

// ServiceType is the mDNS service relays advertise
const ServiceType = "_coview._tcp"

// browseTimeout is how long each mDNS query listens for answers
const browseTimeout = 3 * time.Second

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // websocket path, advertised in TXT
	Room        string // advertised room; browsing filters on it when set
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	relays chan *RelayInfo

	mu     sync.Mutex
	server *mdns.Server
	seen   map[string]bool
}

// RelayInfo describes a discovered relay
type RelayInfo struct {
	Name string
	Host string
	Port int
	Path string
	Room string
}

// Addr returns host:port
func (r *RelayInfo) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		relays: make(chan *RelayInfo, 10),
		seen:   make(map[string]bool),
	}
}

// txtRecords builds the TXT fields advertised for the relay
func (m *Manager) txtRecords() []string {
	txt := []string{"path=" + m.config.Path}
	if m.config.Room != "" {
		txt = append(txt, "room="+m.config.Room)
	}
	return txt
}

// Advertise announces this relay via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)
	return nil
}

// Browse searches for relays in the background; results arrive on Relays
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop queries until Stop
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for entry := range entries {
				m.handleEntry(entry)
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Timeout = browseTimeout
		params.Entries = entries
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			log.Debugf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

func (m *Manager) handleEntry(entry *mdns.ServiceEntry) {
	if entry.AddrV4 == nil {
		return
	}
	relay := relayFromEntry(entry.Name, entry.AddrV4.String(), entry.Port, entry.InfoFields)
	// relays without a room host any room
	if m.config.Room != "" && relay.Room != "" && relay.Room != m.config.Room {
		return
	}

	m.mu.Lock()
	dup := m.seen[relay.Addr()]
	m.seen[relay.Addr()] = true
	m.mu.Unlock()
	if dup {
		return
	}

	log.Printf("Discovered relay: %s at %s (room %q)", relay.Name, relay.Addr(), relay.Room)
	select {
	case m.relays <- relay:
	case <-m.ctx.Done():
	}
}

// relayFromEntry decodes the advertised TXT fields
func relayFromEntry(name, host string, port int, txt []string) *RelayInfo {
	relay := &RelayInfo{Name: name, Host: host, Port: port, Path: "/coview"}
	for _, field := range txt {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			if value != "" {
				relay.Path = value
			}
		case "room":
			relay.Room = value
		}
	}
	return relay
}

// Relays returns the channel of discovered relays
func (m *Manager) Relays() <-chan *RelayInfo {
	return m.relays
}

// Stop ends browsing and advertisement
func (m *Manager) Stop() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
