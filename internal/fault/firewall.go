package fault

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/uproot/internal/session"
)

// FirewallFault names one REST-side misconfiguration. Build inspects
// live firewall state and produces the request sequence to apply.
type FirewallFault struct {
	Name  string
	Build func(ctx context.Context, sess *session.RESTSession) (session.ChangeSet, error)
}

// FirewallFaults is the firewall catalog.
func FirewallFaults() []FirewallFault {
	return []FirewallFault{
		{Name: "default_gateway_chaos", Build: buildDisableDefaultGateway},
		{Name: "disable_outbound_nat", Build: buildDisableOutboundNAT},
		{Name: "insert_block_all_rule", Build: buildBlockAllRule},
	}
}

// applyRequest commits pending firewall changes.
var applyRequest = session.Request{
	Method: http.MethodPost,
	Path:   "/firewall/apply",
	Body:   map[string]any{},
}

// buildBlockAllRule inserts a floating quick block-everything rule on
// the first non-WAN interface (falling back to "lan" when the
// interface list is unreadable).
func buildBlockAllRule(ctx context.Context, sess *session.RESTSession) (session.ChangeSet, error) {
	iface := "lan"
	if res, err := sess.Query(ctx, "/interfaces"); err == nil {
		for _, rec := range res.Records {
			name := recString(rec, "if", "interface")
			descr := recString(rec, "descr")
			if strings.EqualFold(name, "wan") || strings.EqualFold(descr, "wan") {
				continue
			}
			if descr != "" {
				iface = strings.ToLower(descr)
			} else if name != "" {
				iface = strings.ToLower(name)
			}
			break
		}
	}

	rule := map[string]any{
		"type":        "block",
		"interface":   []string{iface}, // API requires an array here
		"ipprotocol":  "inet",
		"protocol":    nil,
		"source":      "any",
		"destination": "any",
		"descr":       fmt.Sprintf("CHAOS: BLOCK ALL (%d)", time.Now().Unix()),
		"disabled":    false,
		"floating":    true,
		"quick":       true,
		"direction":   "any",
	}

	return session.ChangeSet{Requests: []session.Request{
		{Method: http.MethodPost, Path: "/firewall/rule", Body: rule},
		applyRequest,
	}}, nil
}

// buildDisableOutboundNAT switches outbound NAT off entirely.
func buildDisableOutboundNAT(context.Context, *session.RESTSession) (session.ChangeSet, error) {
	return session.ChangeSet{Requests: []session.Request{
		{
			Method: http.MethodPatch,
			Path:   "/firewall/nat/outbound/mode",
			Body:   map[string]any{"mode": "disabled"},
		},
		applyRequest,
	}}, nil
}

// buildDisableDefaultGateway disables the default gateway. The gateway
// is picked by a fixed pass order: exact name "WANGW", then an explicit
// default flag, then the first non-disabled entry.
func buildDisableDefaultGateway(ctx context.Context, sess *session.RESTSession) (session.ChangeSet, error) {
	gateways, err := listGateways(ctx, sess)
	if err != nil {
		return session.ChangeSet{}, err
	}

	gw := pickDefaultGateway(gateways)
	if gw == nil {
		return session.ChangeSet{}, fmt.Errorf("no usable gateway entry found")
	}

	name := recString(gw, "name", "gateway", "descr")
	if name == "" {
		name = "UNKNOWN"
	}

	payload := map[string]any{"disabled": true, "apply": true}
	if id, ok := gw["id"]; ok && id != nil {
		payload["id"] = id
	} else {
		payload["name"] = name
	}

	return session.ChangeSet{Requests: []session.Request{
		{Method: http.MethodPatch, Path: "/routing/gateway", Body: payload},
	}}, nil
}

// listGateways tries the plural endpoint first, then the singular one
// some API builds expose.
func listGateways(ctx context.Context, sess *session.RESTSession) ([]map[string]any, error) {
	var lastErr error
	for _, path := range []string{"/routing/gateways", "/routing/gateway"} {
		res, err := sess.Query(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		if len(res.Records) > 0 {
			return res.Records, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("unable to list gateways: %w", lastErr)
	}
	return nil, fmt.Errorf("gateway list is empty")
}

// pickDefaultGateway applies the documented pass order. The order is
// load-bearing: later passes only run when earlier ones found nothing.
func pickDefaultGateway(gateways []map[string]any) map[string]any {
	for _, g := range gateways {
		if strings.EqualFold(recString(g, "name"), "WANGW") {
			return g
		}
	}
	for _, g := range gateways {
		if recBool(g, "default") || recBool(g, "is_default") || recBool(g, "defaultgw") {
			return g
		}
	}
	for _, g := range gateways {
		if gatewayDisabled(g) {
			continue
		}
		return g
	}
	return nil
}

func gatewayDisabled(g map[string]any) bool {
	switch v := g["disabled"].(type) {
	case bool:
		return v
	case string:
		lower := strings.ToLower(v)
		return lower == "true" || lower == "yes"
	case float64:
		return v == 1
	}
	return false
}

func recString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func recBool(rec map[string]any, key string) bool {
	v, ok := rec[key].(bool)
	return ok && v
}
