// ABOUTME: mDNS service discovery for synthesis control endpoints
// ABOUTME: Servers advertise their token endpoint, players look it up
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type advertised by synthesis servers
const ServiceType = "_resonate-tts._tcp"

// DefaultPath is the token endpoint path advertised in TXT records
const DefaultPath = "/token"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // token endpoint path, advertised as path=<Path>
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
	logger  *log.Logger
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// ControlURL returns the token endpoint of a discovered server
func (s *ServerInfo) ControlURL() string {
	path := s.Path
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(s.Host, fmt.Sprint(s.Port)), path)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if config.Path == "" {
		config.Path = DefaultPath
	}

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
		logger:  log.WithPrefix("mdns"),
	}
}

// Advertise advertises this synthesis server via mDNS
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
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info("Advertising service", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse continuously searches for synthesis servers
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for servers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.query(3 * time.Second)
	}
}

func (m *Manager) query(timeout time.Duration) {
	entries := make(chan *mdns.ServiceEntry, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			server := entryToServer(entry)
			if server == nil {
				continue
			}

			m.logger.Debug("Discovered server", "name", server.Name, "host", server.Host, "port", server.Port)

			select {
			case m.servers <- server:
			case <-m.ctx.Done():
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	if err := mdns.Query(params); err != nil {
		m.logger.Warn("mDNS query failed", "error", err)
	}
	close(entries)
	<-done
}

// Lookup returns the first server found within ctx
func (m *Manager) Lookup(ctx context.Context) (*ServerInfo, error) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			default:
			}
			m.query(time.Second)
		}
	}()

	select {
	case server := <-m.servers:
		return server, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no %s server found: %w", ServiceType, ctx.Err())
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

func entryToServer(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}
	server := &ServerInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: DefaultPath,
	}
	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok && path != "" {
			server.Path = path
		}
	}
	return server
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
