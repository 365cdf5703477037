package tuner

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"github.com/plexbridge/plexbridge/internal/version"
)

const (
	ssdpPort       = 1900
	ssdpMulticast  = "239.255.255.250"
	ssdpDeviceType = "urn:schemas-upnp-org:device:MediaServer:1"
	ssdpMaxAge     = 1800

	DefaultNotifyInterval = 30 * time.Minute
)

// SSDP announces the tuner on the local network so Plex discovers it
// without a manual address. It answers M-SEARCH queries and sends periodic
// alive notifications; byebye goes out on shutdown.
type SSDP struct {
	location       string
	usn            string
	serverHeader   string
	notifyInterval time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	pconn  *ipv4.PacketConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSSDP creates the responder. The device UUID is derived from the
// tuner's device id so it is stable across restarts.
func NewSSDP(baseURL, deviceID string, notifyInterval time.Duration, logger *slog.Logger) *SSDP {
	if notifyInterval <= 0 {
		notifyInterval = DefaultNotifyInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	deviceUUID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("plexbridge:"+deviceID))
	return &SSDP{
		location:       baseURL + "/discover.json",
		usn:            fmt.Sprintf("uuid:%s::%s", deviceUUID, ssdpDeviceType),
		serverHeader:   fmt.Sprintf("PlexBridge/%s UPnP/1.0", version.Version),
		notifyInterval: notifyInterval,
		logger:         logger,
	}
}

// USN returns the unique service name the responder advertises.
func (s *SSDP) USN() string {
	return s.usn
}

// Start binds UDP 1900, joins the multicast group, and begins answering
// searches and sending alive notifications.
func (s *SSDP) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("ssdp already started")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: ssdpPort})
	if err != nil {
		return fmt.Errorf("binding ssdp socket: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(ssdpMulticast)}
	joined := 0
	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pconn.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		// Fall back to the default interface.
		if err := pconn.JoinGroup(nil, group); err != nil {
			conn.Close()
			return fmt.Errorf("joining ssdp multicast group: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.pconn = pconn
	s.cancel = cancel

	s.wg.Add(2)
	go s.listenLoop(runCtx)
	go s.notifyLoop(runCtx)

	s.logger.Info("ssdp responder started",
		slog.String("location", s.location),
		slog.String("usn", s.usn),
		slog.Int("interfaces", joined))
	return nil
}

// Stop sends byebye and closes the socket.
func (s *SSDP) Stop() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}

	s.sendNotify(conn, "ssdp:byebye")
	cancel()
	conn.Close()
	s.wg.Wait()
	s.logger.Info("ssdp responder stopped")
}

func (s *SSDP) listenLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Socket closed during shutdown also lands here.
			return
		}
		st, ok := parseMSearch(buf[:n])
		if !ok {
			continue
		}
		if !s.matchesSearchTarget(st) {
			continue
		}
		if _, err := s.conn.WriteToUDP([]byte(s.searchResponse()), addr); err != nil {
			s.logger.Debug("ssdp search reply failed",
				slog.String("peer", addr.String()),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("answered ssdp search",
			slog.String("peer", addr.String()),
			slog.String("st", st))
	}
}

func (s *SSDP) notifyLoop(ctx context.Context) {
	defer s.wg.Done()

	s.sendNotify(s.conn, "ssdp:alive")

	ticker := time.NewTicker(s.notifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendNotify(s.conn, "ssdp:alive")
		}
	}
}

func (s *SSDP) matchesSearchTarget(st string) bool {
	switch strings.ToLower(st) {
	case "ssdp:all", "upnp:rootdevice", strings.ToLower(ssdpDeviceType):
		return true
	default:
		return false
	}
}

func (s *SSDP) searchResponse() string {
	return "HTTP/1.1 200 OK\r\n" +
		fmt.Sprintf("CACHE-CONTROL: max-age=%d\r\n", ssdpMaxAge) +
		"EXT:\r\n" +
		fmt.Sprintf("LOCATION: %s\r\n", s.location) +
		fmt.Sprintf("SERVER: %s\r\n", s.serverHeader) +
		fmt.Sprintf("ST: %s\r\n", ssdpDeviceType) +
		fmt.Sprintf("USN: %s\r\n", s.usn) +
		"\r\n"
}

func (s *SSDP) notifyMessage(nts string) string {
	return "NOTIFY * HTTP/1.1\r\n" +
		fmt.Sprintf("HOST: %s:%d\r\n", ssdpMulticast, ssdpPort) +
		fmt.Sprintf("CACHE-CONTROL: max-age=%d\r\n", ssdpMaxAge) +
		fmt.Sprintf("LOCATION: %s\r\n", s.location) +
		fmt.Sprintf("NT: %s\r\n", ssdpDeviceType) +
		fmt.Sprintf("NTS: %s\r\n", nts) +
		fmt.Sprintf("SERVER: %s\r\n", s.serverHeader) +
		fmt.Sprintf("USN: %s\r\n", s.usn) +
		"\r\n"
}

func (s *SSDP) sendNotify(conn *net.UDPConn, nts string) {
	if conn == nil {
		return
	}
	dst := &net.UDPAddr{IP: net.ParseIP(ssdpMulticast), Port: ssdpPort}
	if _, err := conn.WriteToUDP([]byte(s.notifyMessage(nts)), dst); err != nil {
		s.logger.Debug("ssdp notify failed",
			slog.String("nts", nts),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("ssdp notify sent", slog.String("nts", nts))
}

// parseMSearch extracts the ST header from an M-SEARCH datagram.
func parseMSearch(datagram []byte) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(string(datagram)))
	if !scanner.Scan() {
		return "", false
	}
	if !strings.HasPrefix(strings.ToUpper(scanner.Text()), "M-SEARCH") {
		return "", false
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "ST") {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
