package core

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// Preset is a built-in facility layout with a recommended crowd size.
type Preset struct {
	Key         string
	Name        string
	AgentCount  int
	Description string
	build       func(*builder)
}

// Build constructs a fresh topology for the preset.
func (p Preset) Build() *kb.KnowledgeBase {
	b := &builder{g: kb.NewKnowledgeBase()}
	b.g.SetName(p.Key)
	p.build(b)
	return b.g
}

var presets = map[string]Preset{
	"dfw": {
		Key: "dfw", Name: "DFW - Dallas/Fort Worth Terminal D", AgentCount: 200,
		Description: "single concourse fanning out to 28 gates and 3 exits",
		build:       buildDFW,
	},
	"atl": {
		Key: "atl", Name: "ATL - Atlanta Hartsfield-Jackson", AgentCount: 300,
		Description: "two entrances merging into a transport mall with 5 concourses",
		build:       buildATL,
	},
	"dxb": {
		Key: "dxb", Name: "DXB - Dubai International Terminal 3", AgentCount: 350,
		Description: "linear landside funnel into 3 concourse hubs and 7 exits",
		build:       buildDXB,
	},
	"del": {
		Key: "del", Name: "DEL - Delhi Indira Gandhi Terminal 3", AgentCount: 280,
		Description: "twin landside halls converging on one central plaza",
		build:       buildDEL,
	},
	"iad": {
		Key: "iad", Name: "IAD - Washington Dulles", AgentCount: 220,
		Description: "single security checkpoint feeding an aerotrain hub",
		build:       buildIAD,
	},
	"stress": {
		Key: "stress", Name: "Constrained terminal (stress test)", AgentCount: 400,
		Description: "small areas and a shared bottleneck before the exits",
		build:       buildStress,
	},
}

// Presets returns every built-in preset ordered by key.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LookupPreset returns the preset registered under key.
func LookupPreset(key string) (Preset, bool) {
	p, ok := presets[key]
	return p, ok
}

type builder struct {
	g *kb.KnowledgeBase
}

// node and edge panic on error: preset layouts are static, so any
// failure here is a typo in this file.
func (b *builder) node(id string, area float64, t model.NodeType, x, y float64) {
	if err := b.g.AddNode(&model.Node{ID: id, Area: area, Type: t, Pos: &model.Position{X: x, Y: y}}); err != nil {
		panic(fmt.Sprintf("preset node %s: %v", id, err))
	}
}

func (b *builder) edge(a, c string) {
	if err := b.g.AddEdge(a, c); err != nil {
		panic(fmt.Sprintf("preset edge %s-%s: %v", a, c, err))
	}
}

func buildDFW(b *builder) {
	b.node("entrance", 200, model.NodeEntrance, 0, 5)
	b.node("security", 150, model.NodeCheckpoint, 2, 5)
	b.node("main_hall", 300, model.NodeHall, 4, 5)
	b.node("concourse_start", 250, model.NodeCorridor, 6, 5)
	for i := 1; i <= 14; i++ {
		b.node(fmt.Sprintf("gate_D%d", i), 80, model.NodeGate, 6+float64(i)*0.5, 7)
	}
	for i := 15; i <= 28; i++ {
		b.node(fmt.Sprintf("gate_D%d", i), 80, model.NodeGate, 6+float64(i-14)*0.5, 3)
	}
	b.node("exit_1", 100, model.NodeExit, 15, 5)
	b.node("exit_2", 100, model.NodeExit, 15, 7)
	b.node("exit_3", 100, model.NodeExit, 15, 3)

	b.edge("entrance", "security")
	b.edge("security", "main_hall")
	b.edge("main_hall", "concourse_start")
	for i := 1; i <= 28; i++ {
		b.edge("concourse_start", fmt.Sprintf("gate_D%d", i))
	}
	for i := 1; i <= 3; i++ {
		b.edge("concourse_start", fmt.Sprintf("exit_%d", i))
	}
}

func buildATL(b *builder) {
	b.node("entrance_north", 250, model.NodeEntrance, 0, 8)
	b.node("entrance_south", 250, model.NodeEntrance, 0, 2)
	b.node("security_north", 200, model.NodeCheckpoint, 2, 8)
	b.node("security_south", 200, model.NodeCheckpoint, 2, 2)
	b.node("main_atrium", 400, model.NodeHall, 4, 5)
	b.node("transport_mall", 300, model.NodeCorridor, 6, 5)

	concourses := []string{"T", "A", "B", "C", "D"}
	for i, c := range concourses {
		x := 8 + float64(i)*2
		b.node("concourse_"+c, 350, model.NodeConcourse, x, 5)
		for j := 1; j <= 8; j++ {
			b.node(fmt.Sprintf("gate_%s%d", c, j), 70, model.NodeGate, x, 5+float64(j-4)*0.5)
		}
	}
	for i := 1; i <= 5; i++ {
		b.node(fmt.Sprintf("exit_%d", i), 120, model.NodeExit, 18, 2+float64(i)*1.5)
	}

	b.edge("entrance_north", "security_north")
	b.edge("entrance_south", "security_south")
	b.edge("security_north", "main_atrium")
	b.edge("security_south", "main_atrium")
	b.edge("main_atrium", "transport_mall")
	for _, c := range concourses {
		b.edge("transport_mall", "concourse_"+c)
		for j := 1; j <= 8; j++ {
			b.edge("concourse_"+c, fmt.Sprintf("gate_%s%d", c, j))
		}
		for i := 1; i <= 5; i++ {
			b.edge("concourse_"+c, fmt.Sprintf("exit_%d", i))
		}
	}
}

func buildDXB(b *builder) {
	b.node("entrance_main", 500, model.NodeEntrance, 0, 10)
	b.node("check_in_area", 600, model.NodeHall, 2, 10)
	b.node("security_central", 300, model.NodeCheckpoint, 4, 10)
	b.node("duty_free", 400, model.NodeHall, 6, 10)

	type concourse struct {
		key   string
		gates int
		y     float64
		area  float64
	}
	// Gate counts are capped at 15 per concourse.
	concourses := []concourse{
		{key: "A", gates: 15, y: 8, area: 100},
		{key: "B", gates: 15, y: 10, area: 80},
		{key: "C", gates: 15, y: 12, area: 80},
	}
	for _, c := range concourses {
		b.node("concourse_"+c.key+"_hub", 400, model.NodeConcourse, 8, c.y)
		for i := 1; i <= c.gates; i++ {
			b.node(fmt.Sprintf("gate_%s%d", c.key, i), c.area, model.NodeGate, 8+float64(i)*0.6, c.y)
		}
	}
	for i := 1; i <= 7; i++ {
		b.node(fmt.Sprintf("exit_%d", i), 150, model.NodeExit, 16, 6+float64(i))
	}

	b.edge("entrance_main", "check_in_area")
	b.edge("check_in_area", "security_central")
	b.edge("security_central", "duty_free")
	for _, c := range concourses {
		hub := "concourse_" + c.key + "_hub"
		b.edge("duty_free", hub)
		for i := 1; i <= c.gates; i++ {
			b.edge(hub, fmt.Sprintf("gate_%s%d", c.key, i))
		}
	}
	for i := 1; i <= 7; i++ {
		exit := fmt.Sprintf("exit_%d", i)
		b.edge("duty_free", exit)
		for _, c := range concourses {
			b.edge("concourse_"+c.key+"_hub", exit)
		}
	}
}

func buildDEL(b *builder) {
	b.node("entrance_1", 300, model.NodeEntrance, 0, 7)
	b.node("entrance_2", 300, model.NodeEntrance, 0, 3)
	b.node("check_in_domestic", 400, model.NodeHall, 2, 7)
	b.node("check_in_intl", 400, model.NodeHall, 2, 3)
	b.node("security_1", 250, model.NodeCheckpoint, 4, 7)
	b.node("security_2", 250, model.NodeCheckpoint, 4, 3)
	b.node("central_plaza", 500, model.NodeHall, 6, 5)
	for i := 1; i <= 24; i++ {
		b.node(fmt.Sprintf("gate_T3_%d", i), 90, model.NodeGate, 8+float64(i)*0.4, 5+float64(i%5)-2)
	}
	for i := 1; i <= 6; i++ {
		b.node(fmt.Sprintf("exit_%d", i), 130, model.NodeExit, 18, 2+float64(i))
	}

	b.edge("entrance_1", "check_in_domestic")
	b.edge("entrance_2", "check_in_intl")
	b.edge("check_in_domestic", "security_1")
	b.edge("check_in_intl", "security_2")
	b.edge("security_1", "central_plaza")
	b.edge("security_2", "central_plaza")
	for i := 1; i <= 24; i++ {
		b.edge("central_plaza", fmt.Sprintf("gate_T3_%d", i))
	}
	for i := 1; i <= 6; i++ {
		b.edge("central_plaza", fmt.Sprintf("exit_%d", i))
	}
}

func buildIAD(b *builder) {
	b.node("main_terminal", 400, model.NodeEntrance, 0, 5)
	b.node("security_checkpoint", 250, model.NodeCheckpoint, 2, 5)
	b.node("aerotrain_station", 200, model.NodeCorridor, 4, 5)

	type concourse struct {
		key   string
		gates int
		y     float64
	}
	concourses := []concourse{
		{"A", 10, 8}, {"B", 12, 6}, {"C", 12, 4}, {"D", 8, 2}, {"Z", 6, 10},
	}
	for _, c := range concourses {
		b.node("concourse_"+c.key, 280, model.NodeConcourse, 6, c.y)
		for i := 1; i <= c.gates; i++ {
			b.node(fmt.Sprintf("gate_%s%d", c.key, i), 75, model.NodeGate, 6+float64(i)*0.5, c.y)
		}
	}
	for i := 1; i <= 5; i++ {
		b.node(fmt.Sprintf("exit_%d", i), 110, model.NodeExit, 14, 2+float64(i)*2)
	}

	b.edge("main_terminal", "security_checkpoint")
	b.edge("security_checkpoint", "aerotrain_station")
	for _, c := range concourses {
		b.edge("aerotrain_station", "concourse_"+c.key)
		for i := 1; i <= c.gates; i++ {
			b.edge("concourse_"+c.key, fmt.Sprintf("gate_%s%d", c.key, i))
		}
	}
	for i := 1; i <= 5; i++ {
		for _, c := range concourses {
			b.edge("concourse_"+c.key, fmt.Sprintf("exit_%d", i))
		}
	}
}

func buildStress(b *builder) {
	b.node("entrance", 80, model.NodeEntrance, 0, 5)
	b.node("security_1", 40, model.NodeCheckpoint, 1, 6)
	b.node("security_2", 40, model.NodeCheckpoint, 1, 4)
	b.node("main_hall", 100, model.NodeHall, 2, 5)
	b.node("corridor_1", 30, model.NodeCorridor, 3, 6)
	b.node("corridor_2", 30, model.NodeCorridor, 3, 4)
	b.node("gate_area_a", 60, model.NodeGate, 4, 7)
	b.node("gate_area_b", 60, model.NodeGate, 4, 5)
	b.node("gate_area_c", 60, model.NodeGate, 4, 3)
	b.node("bottleneck", 25, model.NodeCorridor, 5, 5)
	b.node("exit_1", 50, model.NodeExit, 6, 6)
	b.node("exit_2", 50, model.NodeExit, 6, 4)
	b.node("emergency_exit", 40, model.NodeExit, 4, 1)

	b.edge("entrance", "security_1")
	b.edge("entrance", "security_2")
	b.edge("security_1", "main_hall")
	b.edge("security_2", "main_hall")
	b.edge("main_hall", "corridor_1")
	b.edge("main_hall", "corridor_2")
	b.edge("corridor_1", "gate_area_a")
	b.edge("corridor_2", "gate_area_c")
	b.edge("main_hall", "gate_area_b")
	b.edge("gate_area_a", "bottleneck")
	b.edge("gate_area_b", "bottleneck")
	b.edge("gate_area_c", "bottleneck")
	b.edge("bottleneck", "exit_1")
	b.edge("bottleneck", "exit_2")
	b.edge("gate_area_c", "emergency_exit")
}
