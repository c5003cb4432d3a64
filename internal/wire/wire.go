// Package wire serializes collector.Update records for the downstream bus:
// one JSON object per line, matching the reference collector's
// line-delimited emission convention.
package wire

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/routebeacon/bmp-collector/internal/collector"
)

// Record is the wire representation of a collector.Update. Field names are
// stable and are the contract with downstream consumers; renaming any of
// them is a breaking change.
type Record struct {
	ReceivedAt   string `json:"received_at"`
	BMPTimestamp string `json:"bmp_timestamp"`

	RouterAddr string `json:"router_addr"`
	RouterPort uint16 `json:"router_port"`

	PeerAddr  string `json:"peer_addr"`
	PeerBGPID string `json:"peer_bgp_id"`
	PeerASN   uint32 `json:"peer_asn"`

	Prefix string `json:"prefix"`

	Announced  bool `json:"announced"`
	PostPolicy bool `json:"post_policy"`
	AdjRIBOut  bool `json:"adj_rib_out"`
	Synthetic  bool `json:"synthetic"`

	Origin string   `json:"origin,omitempty"`
	ASPath []uint32 `json:"as_path,omitempty"`

	NextHop   *string `json:"next_hop,omitempty"`
	MED       *uint32 `json:"med,omitempty"`
	LocalPref *uint32 `json:"local_pref,omitempty"`

	OnlyToCustomer *uint32 `json:"only_to_customer,omitempty"`

	AtomicAggregate bool    `json:"atomic_aggregate,omitempty"`
	AggregatorASN   *uint32 `json:"aggregator_asn,omitempty"`
	AggregatorBGPID *string `json:"aggregator_bgp_id,omitempty"`

	OriginatorID *string  `json:"originator_id,omitempty"`
	ClusterList  []string `json:"cluster_list,omitempty"`

	Communities         []wireCommunity      `json:"communities,omitempty"`
	ExtendedCommunities []wireExtCommunity   `json:"extended_communities,omitempty"`
	LargeCommunities    []wireLargeCommunity `json:"large_communities,omitempty"`
}

type wireCommunity struct {
	ASN   uint32 `json:"asn"`
	Value uint16 `json:"value"`
}

type wireExtCommunity struct {
	Type    byte   `json:"type"`
	Subtype byte   `json:"subtype"`
	Value   string `json:"value"`
}

type wireLargeCommunity struct {
	Global uint32 `json:"global"`
	Local1 uint32 `json:"local1"`
	Local2 uint32 `json:"local2"`
}

// ToRecord converts a collector.Update into its wire representation.
func ToRecord(u *collector.Update) Record {
	r := Record{
		ReceivedAt:   u.ReceivedAt.UTC().Format(timeLayout),
		BMPTimestamp: u.BMPTimestamp.UTC().Format(timeLayout),
		RouterAddr:   u.RouterAddr.String(),
		RouterPort:   u.RouterPort,
		PeerAddr:     u.PeerAddr.String(),
		PeerBGPID:    u.PeerBGPID.String(),
		PeerASN:      u.PeerASN,
		Prefix:       fmt.Sprintf("%s/%d", u.PrefixAddr, u.PrefixLen),
		Announced:    u.Announced,
		PostPolicy:   u.PostPolicy,
		AdjRIBOut:    u.AdjRIBOut,
		Synthetic:    u.Synthetic,
		Origin:       u.Origin,
		ASPath:       u.ASPath,

		MED:             u.MED,
		LocalPref:       u.LocalPref,
		OnlyToCustomer:  u.OnlyToCustomer,
		AtomicAggregate: u.AtomicAggregate,
		AggregatorASN:   u.AggregatorASN,
	}

	if u.NextHop != nil {
		r.NextHop = addrString(*u.NextHop)
	}
	if u.AggregatorBGPID != nil {
		r.AggregatorBGPID = addrString(*u.AggregatorBGPID)
	}
	if u.OriginatorID != nil {
		r.OriginatorID = addrString(*u.OriginatorID)
	}
	if len(u.ClusterList) > 0 {
		r.ClusterList = make([]string, len(u.ClusterList))
		for i, a := range u.ClusterList {
			r.ClusterList[i] = a.String()
		}
	}
	if len(u.Communities) > 0 {
		r.Communities = make([]wireCommunity, len(u.Communities))
		for i, c := range u.Communities {
			r.Communities[i] = wireCommunity{ASN: c.ASN, Value: c.Value}
		}
	}
	if len(u.ExtendedCommunities) > 0 {
		r.ExtendedCommunities = make([]wireExtCommunity, len(u.ExtendedCommunities))
		for i, c := range u.ExtendedCommunities {
			r.ExtendedCommunities[i] = wireExtCommunity{
				Type:    c.Type,
				Subtype: c.Subtype,
				Value:   fmt.Sprintf("%x", c.Value),
			}
		}
	}
	if len(u.LargeCommunities) > 0 {
		r.LargeCommunities = make([]wireLargeCommunity, len(u.LargeCommunities))
		for i, c := range u.LargeCommunities {
			r.LargeCommunities[i] = wireLargeCommunity{Global: c.Global, Local1: c.Local1, Local2: c.Local2}
		}
	}

	return r
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func addrString(a netip.Addr) *string {
	s := a.String()
	return &s
}

// Marshal serializes a collector.Update as a single JSON line, including
// the trailing newline.
func Marshal(u *collector.Update) ([]byte, error) {
	r := ToRecord(u)
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal update: %w", err)
	}
	return append(b, '\n'), nil
}
