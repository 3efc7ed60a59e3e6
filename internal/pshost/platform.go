package pshost

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/edvin/mfafarm/internal/platform"
)

// FarmNode is one entry of the platform's farm roster.
type FarmNode struct {
	FQDN          string `yaml:"FQDN"`
	BehaviorLevel int    `yaml:"BehaviorLevel"`
	Heartbeat     string `yaml:"Heartbeat"`
	NodeType      string `yaml:"NodeType"`
}

// HeartbeatTime parses the roster's round-trip formatted heartbeat.
func (n FarmNode) HeartbeatTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, n.Heartbeat)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Platform answers the platform queries topology discovery needs.
type Platform struct {
	host Host
}

// NewPlatform creates a Platform over host.
func NewPlatform(host Host) *Platform {
	return &Platform{host: host}
}

const versionScript = `Get-ItemProperty 'HKLM:\SOFTWARE\Microsoft\Windows NT\CurrentVersion' |
Select-Object CurrentVersion, @{n='CurrentBuild';e={[int]$_.CurrentBuild}},
CurrentMajorVersionNumber, CurrentMinorVersionNumber, ProductName, InstallationType`

// Version reads the local platform release information.
func (q *Platform) Version(ctx context.Context) (platform.Version, error) {
	rows, err := q.host.Run(ctx, versionScript, nil)
	if err != nil {
		return platform.Version{}, fmt.Errorf("read platform version: %w", err)
	}
	var v platform.Version
	if err := DecodeFirst(rows, &v); err != nil {
		return platform.Version{}, err
	}
	return v, nil
}

// SyncRole returns the local node's role tag.
func (q *Platform) SyncRole(ctx context.Context) (string, error) {
	rows, err := q.host.Run(ctx, "(Get-AdfsSyncProperties).Role", nil)
	if err != nil {
		return "", fmt.Errorf("read sync role: %w", err)
	}
	return First(rows), nil
}

// FarmBehavior returns the farm behavior level.
func (q *Platform) FarmBehavior(ctx context.Context) (int, error) {
	rows, err := q.host.Run(ctx, "(Get-AdfsFarmInformation).CurrentFarmBehavior", nil)
	if err != nil {
		return 0, fmt.Errorf("read farm behavior: %w", err)
	}
	level, err := strconv.Atoi(First(rows))
	if err != nil {
		return 0, fmt.Errorf("parse farm behavior: %w", err)
	}
	return level, nil
}

// FarmIdentifier returns the farm's federation identifier.
func (q *Platform) FarmIdentifier(ctx context.Context) (string, error) {
	rows, err := q.host.Run(ctx, "(Get-ADFSProperties).Identifier.OriginalString", nil)
	if err != nil {
		return "", fmt.Errorf("read farm identifier: %w", err)
	}
	id := First(rows)
	if id == "" {
		return "", fmt.Errorf("read farm identifier: empty result")
	}
	return id, nil
}

const farmNodesScript = `(Get-AdfsFarmInformation).FarmNodes |
Select-Object FQDN, BehaviorLevel, NodeType,
@{n='Heartbeat';e={$_.HeartbeatTimeStamp.ToUniversalTime().ToString('o')}}`

// FarmNodes returns the farm roster. Only newer platform generations expose it.
func (q *Platform) FarmNodes(ctx context.Context) ([]FarmNode, error) {
	rows, err := q.host.Run(ctx, farmNodesScript, nil)
	if err != nil {
		return nil, fmt.Errorf("read farm nodes: %w", err)
	}
	var nodes []FarmNode
	if err := Decode(rows, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}
