// Package monitoring provides a small HTTP API into a running simulation,
// serving the hierarchy state, the simulated time, and the resources that
// the simulator process consumes.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/sarchlab/tlbsim/timing"
	"github.com/sarchlab/tlbsim/tlb"
)

// Monitor can turn a simulation into a server and serve its live state.
type Monitor struct {
	portNumber  int
	openBrowser bool

	hierarchy *tlb.Comp
	clock     timing.Clock

	router *mux.Router
}

// NewMonitor creates a new Monitor. By default it listens on a random free
// port and does not open a browser.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port the server listens on. Port 0 picks a free
// one.
func (m *Monitor) WithPortNumber(port int) *Monitor {
	m.portNumber = port
	return m
}

// WithBrowserLaunch makes StartServer open the served address in the
// system browser.
func (m *Monitor) WithBrowserLaunch() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterHierarchy sets the TLB hierarchy to serve.
func (m *Monitor) RegisterHierarchy(h *tlb.Comp) {
	m.hierarchy = h
}

// RegisterClock sets the clock that provides the simulated time.
func (m *Monitor) RegisterClock(c timing.Clock) {
	m.clock = c
}

// StartServer starts the monitoring server in the background. The chosen
// address is reported on stderr.
func (m *Monitor) StartServer() error {
	listener, err := net.Listen("tcp",
		fmt.Sprintf("0.0.0.0:%d", m.portNumber))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr,
		"Monitoring simulation at http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	m.router = mux.NewRouter()
	m.router.HandleFunc("/api/stats", m.serveStats)
	m.router.HandleFunc("/api/now", m.serveNow)
	m.router.HandleFunc("/api/resources", m.serveResources)

	if m.openBrowser {
		url := fmt.Sprintf("http://localhost:%d",
			listener.Addr().(*net.TCPAddr).Port)
		_ = browser.OpenURL(url)
	}

	go func() {
		err := http.Serve(listener, m.router)
		if err != nil {
			panic(err)
		}
	}()

	return nil
}

type statsResponse struct {
	Name string `json:"name"`

	L1Hits          uint64 `json:"l1_hits"`
	L1Misses        uint64 `json:"l1_misses"`
	L1Invalidations uint64 `json:"l1_invalidations"`
	L2Hits          uint64 `json:"l2_hits"`
	L2Misses        uint64 `json:"l2_misses"`
	L2Invalidations uint64 `json:"l2_invalidations"`

	L1Occupancy int `json:"l1_occupancy"`
	L1Capacity  int `json:"l1_capacity"`
	L2Occupancy int `json:"l2_occupancy"`
	L2Capacity  int `json:"l2_capacity"`

	AccessCount uint64 `json:"access_count"`
}

func (m *Monitor) serveStats(w http.ResponseWriter, _ *http.Request) {
	s := m.hierarchy.Stats()
	rsp := statsResponse{
		Name:            m.hierarchy.Name(),
		L1Hits:          s.L1Hits,
		L1Misses:        s.L1Misses,
		L1Invalidations: s.L1Invalidations,
		L2Hits:          s.L2Hits,
		L2Misses:        s.L2Misses,
		L2Invalidations: s.L2Invalidations,
		L1Occupancy:     m.hierarchy.Occupancy(tlb.LevelL1),
		L1Capacity:      m.hierarchy.Capacity(tlb.LevelL1),
		L2Occupancy:     m.hierarchy.Occupancy(tlb.LevelL2),
		L2Capacity:      m.hierarchy.Capacity(tlb.LevelL2),
		AccessCount:     m.hierarchy.AccessCount(),
	}

	writeJSON(w, rsp)
}

type nowResponse struct {
	NowNS uint64 `json:"now_ns"`
}

func (m *Monitor) serveNow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, nowResponse{NowNS: uint64(m.clock.Now())})
}

type resourcesResponse struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
}

func (m *Monitor) serveResources(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpu, err := p.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourcesResponse{
		CPUPercent: cpu,
		MemoryRSS:  memInfo.RSS,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
