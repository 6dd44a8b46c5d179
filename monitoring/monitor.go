// Package monitoring turns a running grid into a web server that reports the
// simulated time, the tile counters and the state of the fabric slots.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/mmu"
	"github.com/sarchlab/nocsim/monitoring/web"
	"github.com/sarchlab/nocsim/noc"
	"github.com/sarchlab/nocsim/sim"
	"github.com/sarchlab/nocsim/tracing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves the state of a grid over HTTP.
type Monitor struct {
	grid        *noc.Grid
	counters    *tracing.Counters
	portNumber  int
	openBrowser bool
	addr        string

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes the monitor open the page in a browser once the server is
// up.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterGrid registers the grid to monitor.
func (m *Monitor) RegisterGrid(g *noc.Grid) {
	m.grid = g
}

// RegisterCounters registers the counters reported by /api/counters.
func (m *Monitor) RegisterCounters(c *tracing.Counters) {
	m.counters = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// URL returns the address of the web page. It is empty before StartServer.
func (m *Monitor) URL() string {
	if m.addr == "" {
		return ""
	}

	return "http://" + m.addr
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/list_tiles", m.listTiles)
	r.HandleFunc("/api/tiles", m.listTileStats)
	r.HandleFunc("/api/tile/{id}", m.listTileDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/counters", m.listCounters)
	r.HandleFunc("/api/fabrics", m.listFabrics)
	r.HandleFunc("/api/hangdetector/slots", m.hangDetectorSlots)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server with a custom port if wanted.
func (m *Monitor) StartServer() {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.addr = fmt.Sprintf("localhost:%d", listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", m.URL())

	r := m.router()

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	if m.openBrowser {
		err := browser.OpenURL(m.URL())
		if err != nil {
			log.Printf("cannot open browser: %v", err)
		}
	}
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%d}", m.grid.Now())
}

func (m *Monitor) listTiles(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, t := range m.grid.Tiles() {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "\"%s\"", t.Name())
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) listTileStats(w http.ResponseWriter, _ *http.Request) {
	stats := make([]mmu.Stats, 0, m.grid.NumTiles())
	for _, t := range m.grid.Tiles() {
		stats = append(stats, t.MMU().Stats())
	}

	writeJSON(w, stats)
}

func (m *Monitor) listTileDetails(w http.ResponseWriter, r *http.Request) {
	stats, ok := m.findTileStatsOr404(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&stats)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	TileID    string `json:"tile_id,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	stats, ok := m.findTileStatsOr404(w, req.TileID)
	if !ok {
		return
	}

	elem, err := m.walkFields(&stats, req.FieldName)
	if err != nil || !elem.IsValid() {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: cannot resolve field %q", req.FieldName)
		return
	}

	writeJSON(w, elem.Interface())
}

func (m *Monitor) listCounters(w http.ResponseWriter, _ *http.Request) {
	if m.counters == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("No counters registered"))
		dieOnErr(err)

		return
	}

	writeJSON(w, m.counters.Snapshot())
}

type fabricRsp struct {
	Name         string             `json:"name"`
	InService    int                `json:"in_service"`
	MaxInService int                `json:"max_in_service"`
	Serviced     uint64             `json:"serviced"`
	Slots        []fabric.SlotState `json:"slots"`
}

func (m *Monitor) listFabrics(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]fabricRsp, 0, len(m.grid.Fabrics()))
	for _, f := range m.grid.Fabrics() {
		rsp = append(rsp, fabricRsp{
			Name:         f.Name(),
			InService:    f.InService(),
			MaxInService: f.MaxInService(),
			Serviced:     f.Serviced(),
			Slots:        f.Slots(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) hangDetectorSlots(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.slotsParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	writeJSON(w, m.sortAndSelectSlots(sortMethod, limit, offset))
}

func (*Monitor) slotsParseParams(
	r *http.Request,
) (sort string, limit, offset int, err error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "depth"
	}
	if sortMethod != "depth" && sortMethod != "node" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `depth` and `node`",
			sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limitNumber, err := strconv.Atoi(limitStr)
	if err != nil || limitNumber < 0 {
		return sortMethod, 0, 0, fmt.Errorf("invalid limit %q", limitStr)
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offsetNumber, err := strconv.Atoi(offsetStr)
	if err != nil || offsetNumber < 0 {
		return sortMethod, limitNumber, 0, fmt.Errorf("invalid offset %q", offsetStr)
	}

	return sortMethod, limitNumber, offsetNumber, nil
}

// sortAndSelectSlots lists the occupied slots. The depth order puts the slots
// closest to the root first, as a packet stuck there holds back every packet
// below it. A zero limit selects all the remaining slots.
func (m *Monitor) sortAndSelectSlots(
	sortMethod string,
	limit, offset int,
) []fabric.SlotState {
	var occupied []fabric.SlotState
	for _, f := range m.grid.Fabrics() {
		for _, s := range f.Slots() {
			if s.Occupied {
				occupied = append(occupied, s)
			}
		}
	}

	return m.sortSlots(occupied, sortMethod, limit, offset)
}

func (m *Monitor) sortSlots(
	occupied []fabric.SlotState,
	sortMethod string,
	limit, offset int,
) []fabric.SlotState {
	switch sortMethod {
	case "depth":
		sort.SliceStable(occupied, func(i, j int) bool {
			return occupied[i].Node > occupied[j].Node
		})
	case "node":
		sort.SliceStable(occupied, func(i, j int) bool {
			if occupied[i].Fabric != occupied[j].Fabric {
				return occupied[i].Fabric < occupied[j].Fabric
			}

			return occupied[i].Node < occupied[j].Node
		})
	default:
		log.Panicf("invalid sort method %s", sortMethod)
	}

	if offset >= len(occupied) {
		return []fabric.SlotState{}
	}

	end := len(occupied)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return occupied[offset:end]
}

type fieldFormatError struct {
}

func (e fieldFormatError) Error() string {
	return "fieldFormatError"
}

func (m *Monitor) walkFields(
	comp interface{},
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(comp)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) findTileStatsOr404(
	w http.ResponseWriter,
	id string,
) (mmu.Stats, bool) {
	tileID, err := strconv.Atoi(id)
	if err != nil || tileID < 0 || tileID >= m.grid.NumTiles() {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Tile not found"))
		dieOnErr(err)

		return mmu.Stats{}, false
	}

	return m.grid.Tile(tileID).MMU().Stats(), true
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
