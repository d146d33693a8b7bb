// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package drivers

import (
	"errors"
	"net/rpc"
	"os/exec"

	plugin "github.com/hashicorp/go-plugin"
	version "github.com/hashicorp/go-version"

	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/plugins/base"
)

// PerformancePluginName is the go-plugin Dispense key both host and
// plugin process use to locate the performance-counter driver.
const PerformancePluginName = "performance"

// PerformanceHandshake is the go-plugin handshake both sides must agree
// on before any RPC call is attempted, the same magic-cookie pattern the
// teacher's out-of-process task drivers use to reject a process that
// happens to be listening on the handshake pipe but isn't a HAL driver.
var PerformanceHandshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "HAL_PERFORMANCE_PLUGIN",
	MagicCookieValue: "aica-pvr2-holly",
}

// rpcError is *hal.Error's wire rendering: Cause does not survive the RPC
// hop (net/rpc's gob codec cannot decode an arbitrary error interface), so
// it is flattened to a string and reconstructed as a plain error on the
// other side.
type rpcError struct {
	Kind      hal.ErrorKind
	Message   string
	Driver    string
	Operation string
	CauseMsg  string
}

func toRPCError(e *hal.Error) *rpcError {
	if e == nil {
		return nil
	}
	r := &rpcError{Kind: e.Kind, Message: e.Message, Driver: e.Driver, Operation: e.Operation}
	if e.Cause != nil {
		r.CauseMsg = e.Cause.Error()
	}
	return r
}

func fromRPCError(r *rpcError) *hal.Error {
	if r == nil {
		return nil
	}
	e := hal.New(r.Kind, r.Message).WithContext(r.Driver, r.Operation)
	if r.CauseMsg != "" {
		e.Cause = errors.New(r.CauseMsg)
	}
	return e
}

// PerformancePlugin adapts a PerformanceDriver to go-plugin's legacy
// net/rpc Plugin interface. A driver that wants process isolation (a
// vendor counter library the host process would rather not link
// directly) runs behind this instead of a direct in-process Bridge.
type PerformancePlugin struct {
	Impl PerformanceDriver
}

func (p *PerformancePlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &performanceRPCServer{impl: p.Impl}, nil
}

func (p *PerformancePlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &performanceRPCClient{client: c}, nil
}

// performanceRPCServer runs in the plugin process, dispatching net/rpc
// calls to the real PerformanceDriver implementation.
type performanceRPCServer struct {
	impl PerformanceDriver
}

type initializeArgs struct {
	Platform *hal.PlatformInfo
}

func (s *performanceRPCServer) Initialize(args initializeArgs, resp *rpcError) error {
	*resp = zeroRPCError(toRPCError(s.impl.Initialize(args.Platform, nil)))
	return nil
}

func (s *performanceRPCServer) Shutdown(_ struct{}, resp *rpcError) error {
	*resp = zeroRPCError(toRPCError(s.impl.Shutdown()))
	return nil
}

func (s *performanceRPCServer) Capabilities(_ struct{}, resp *hal.Mask) error {
	*resp = s.impl.Capabilities()
	return nil
}

type readCounterResp struct {
	Value uint64
	Err   rpcError
}

func (s *performanceRPCServer) ReadCounter(name string, resp *readCounterResp) error {
	v, herr := s.impl.ReadCounter(name)
	resp.Value = v
	resp.Err = zeroRPCError(toRPCError(herr))
	return nil
}

func zeroRPCError(r *rpcError) rpcError {
	if r == nil {
		return rpcError{}
	}
	return *r
}

func rpcErrorOrNil(r rpcError) *hal.Error {
	if r == (rpcError{}) {
		return nil
	}
	return fromRPCError(&r)
}

// performanceRPCClient runs in the host process, presenting the usual
// PerformanceDriver interface over the net/rpc connection to the plugin
// process. Its base.Driver.Version always reports nil: version exchange
// happens once at handshake via go-plugin's own negotiation, not per call.
type performanceRPCClient struct {
	client *rpc.Client
}

func (c *performanceRPCClient) Initialize(platform *hal.PlatformInfo, _ *base.CoreServices) *hal.Error {
	var resp rpcError
	if err := c.client.Call("Plugin.Initialize", initializeArgs{Platform: platform}, &resp); err != nil {
		return hal.Wrap(hal.ErrInternalError, "performance plugin rpc: Initialize", err)
	}
	return rpcErrorOrNil(resp)
}

func (c *performanceRPCClient) Shutdown() *hal.Error {
	var resp rpcError
	if err := c.client.Call("Plugin.Shutdown", struct{}{}, &resp); err != nil {
		return hal.Wrap(hal.ErrInternalError, "performance plugin rpc: Shutdown", err)
	}
	return rpcErrorOrNil(resp)
}

func (c *performanceRPCClient) Capabilities() hal.Mask {
	var resp hal.Mask
	_ = c.client.Call("Plugin.Capabilities", struct{}{}, &resp)
	return resp
}

// Version is not meaningful over this transport (see the type doc); it
// reports nil so callers relying on MinVersion treat it as unknown rather
// than faking a value.
func (c *performanceRPCClient) Version() *version.Version { return nil }

func (c *performanceRPCClient) ReadCounter(name string) (uint64, *hal.Error) {
	var resp readCounterResp
	if err := c.client.Call("Plugin.ReadCounter", name, &resp); err != nil {
		return 0, hal.Wrap(hal.ErrInternalError, "performance plugin rpc: ReadCounter", err)
	}
	return resp.Value, rpcErrorOrNil(resp.Err)
}

// ServePerformancePlugin runs impl as a go-plugin plugin process. A
// driver author builds a small main package around this for any
// PerformanceDriver they want to ship out-of-process.
func ServePerformancePlugin(impl PerformanceDriver) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: PerformanceHandshake,
		Plugins: map[string]plugin.Plugin{
			PerformancePluginName: &PerformancePlugin{Impl: impl},
		},
	})
}

// DialPerformancePlugin launches cmd as a go-plugin client and dispenses
// the performance driver it serves. The returned client.Kill must be
// called to terminate the child process once the driver is shut down.
func DialPerformancePlugin(cmd *exec.Cmd) (PerformanceDriver, *plugin.Client, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: PerformanceHandshake,
		Plugins: map[string]plugin.Plugin{
			PerformancePluginName: &PerformancePlugin{},
		},
		Cmd: cmd,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, err
	}

	raw, err := rpcClient.Dispense(PerformancePluginName)
	if err != nil {
		client.Kill()
		return nil, nil, err
	}

	drv, ok := raw.(PerformanceDriver)
	if !ok {
		client.Kill()
		return nil, nil, errors.New("performance plugin: dispensed value does not implement PerformanceDriver")
	}
	return drv, client, nil
}
