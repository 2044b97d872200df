package consul

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/volcache/data"
)

// ConsulService implements the metadata service contract on top of
// HashiCorp Consul KV.
//
// Layout under the configured prefix:
//   - group/<id>       serialized group record
//   - name/<name>      group id the name resolves to
//   - pv/<pvid>        serialized device record
//   - flags/duplicates sticky duplicates flag
//
// Consul KV limits values to 512KB; group metadata stays far below
// that in practice.
type ConsulService struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV

	config *ConsulServiceConfig
	active bool
}

// ConsulServiceConfig contains configuration options for the Consul
// metadata service.
type ConsulServiceConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Namespace for Consul Enterprise (optional)
	Namespace string

	// Prefix for all keys in Consul KV (default: "volcache/")
	Prefix string
}

// NewConsulService creates a Consul-backed metadata service. The
// cluster is probed once; an unreachable cluster yields an inactive
// service rather than an error, so callers degrade to local scanning.
func NewConsulService(config *ConsulServiceConfig) (*ConsulService, error) {
	if config == nil {
		config = &ConsulServiceConfig{}
	}

	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}
	if config.Prefix == "" {
		config.Prefix = "volcache/"
	}
	if config.Prefix[len(config.Prefix)-1] != '/' {
		config.Prefix += "/"
	}

	clientConfig := api.DefaultConfig()
	clientConfig.Address = config.Address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}
	if config.Namespace != "" {
		clientConfig.Namespace = config.Namespace
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	cs := &ConsulService{
		client: client,
		kv:     client.KV(),
		config: config,
	}

	leader, err := client.Status().Leader()
	cs.active = err == nil && leader != ""

	return cs, nil
}

// Active reports whether the cluster answered the startup probe.
func (cs *ConsulService) Active() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return cs.active
}

func (cs *ConsulService) groupKey(id string) string {
	return cs.config.Prefix + "group/" + data.NormalizeID(id)
}

func (cs *ConsulService) nameKey(name string) string {
	return cs.config.Prefix + "name/" + name
}

func (cs *ConsulService) pvKey(pvid string) string {
	return cs.config.Prefix + "pv/" + data.NormalizeID(pvid)
}

func (cs *ConsulService) flagKey() string {
	return cs.config.Prefix + "flags/duplicates"
}

// LookupGroup resolves a group record by name or id.
func (cs *ConsulService) LookupGroup(ctx context.Context, name, id string) (*data.VolumeGroup, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)

	if id == "" {
		pair, _, err := cs.kv.Get(cs.nameKey(name), opts)
		if err != nil {
			return nil, err
		}
		if pair == nil {
			return nil, data.ErrNotExist
		}
		id = string(pair.Value)
	}

	pair, _, err := cs.kv.Get(cs.groupKey(id), opts)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, data.ErrNotExist
	}

	vg := &data.VolumeGroup{}
	if err := json.Unmarshal(pair.Value, vg); err != nil {
		return nil, err
	}

	return vg, nil
}

// PVList returns every known device record.
func (cs *ConsulService) PVList(ctx context.Context) ([]data.DeviceSummary, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)

	pairs, _, err := cs.kv.List(cs.config.Prefix+"pv/", opts)
	if err != nil {
		return nil, err
	}

	summaries := make([]data.DeviceSummary, 0, len(pairs))
	for _, pair := range pairs {
		var ds data.DeviceSummary
		if err := json.Unmarshal(pair.Value, &ds); err != nil {
			return nil, err
		}
		summaries = append(summaries, ds)
	}

	return summaries, nil
}

// Update replaces the record of a group and refreshes the device
// records of its members.
func (cs *ConsulService) Update(ctx context.Context, vg *data.VolumeGroup) error {
	buf, err := json.Marshal(vg)
	if err != nil {
		return err
	}

	opts := (&api.WriteOptions{}).WithContext(ctx)

	if _, err := cs.kv.Put(&api.KVPair{Key: cs.groupKey(vg.ID), Value: buf}, opts); err != nil {
		return err
	}
	if _, err := cs.kv.Put(&api.KVPair{Key: cs.nameKey(vg.Name), Value: []byte(data.NormalizeID(vg.ID))}, opts); err != nil {
		return err
	}

	for _, pv := range vg.Devices {
		ds := data.DeviceSummary{
			PVID:      pv.PVID,
			Path:      pv.Path,
			Size:      pv.Size,
			GroupName: vg.Name,
			GroupID:   vg.ID,
		}

		dsbuf, err := json.Marshal(&ds)
		if err != nil {
			return err
		}
		if _, err := cs.kv.Put(&api.KVPair{Key: cs.pvKey(pv.PVID), Value: dsbuf}, opts); err != nil {
			return err
		}
	}

	return nil
}

// SetFoundDuplicates sets or clears the sticky duplicates flag.
func (cs *ConsulService) SetFoundDuplicates(ctx context.Context, found bool) error {
	opts := (&api.WriteOptions{}).WithContext(ctx)

	value := []byte("false")
	if found {
		value = []byte("true")
	}

	_, err := cs.kv.Put(&api.KVPair{Key: cs.flagKey(), Value: value}, opts)
	return err
}

// FoundDuplicates reads the sticky duplicates flag.
func (cs *ConsulService) FoundDuplicates(ctx context.Context) (bool, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)

	pair, _, err := cs.kv.Get(cs.flagKey(), opts)
	if err != nil {
		return false, err
	}
	if pair == nil {
		return false, nil
	}

	return string(pair.Value) == "true", nil
}

// Close marks the service inactive. The Consul client itself is
// stateless and needs no teardown.
func (cs *ConsulService) Close(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.active = false
	return nil
}
