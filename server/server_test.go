// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server_test

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/luxfi/gxo"
	"github.com/luxfi/gxo/fault"
	"github.com/luxfi/gxo/registry"
	"github.com/luxfi/gxo/server"
	"github.com/luxfi/gxo/session"
)

type serverSuite struct {
	srv  *server.Server
	calc *calculator
	ctx  context.Context
	stop context.CancelFunc
}

var _ = gc.Suite(&serverSuite{})

func (s *serverSuite) SetUpTest(c *gc.C) {
	s.srv = newServer(c, server.Params{})
	s.calc = &calculator{}
	c.Assert(s.srv.Registered(s.calc, server.RoleService), jc.ErrorIsNil)
	s.ctx, s.stop = context.WithTimeout(context.Background(), testing.LongWait)
}

func (s *serverSuite) TearDownTest(c *gc.C) {
	s.stop()
	c.Check(s.srv.Deactivate(), jc.ErrorIsNil)
}

// newServer returns a server knowing the Calculator interface and the
// Counter class.
func newServer(c *gc.C, params server.Params) *server.Server {
	catalog := registry.NewCatalog()
	c.Assert(catalog.Declare("Calculator", (*Calculator)(nil)), jc.ErrorIsNil)
	params.Registry = registry.New(catalog)
	srv := server.New(params)
	cls := registry.MustNewClass("Counter", (*counter)(nil), newCounter)
	c.Assert(srv.InstantiatableRegistered(cls), jc.ErrorIsNil)
	return srv
}

func (s *serverSuite) activate(c *gc.C, cfg server.Config) string {
	cfg.Host = "127.0.0.1"
	c.Assert(s.srv.Activate(cfg), jc.ErrorIsNil)
	addr := s.srv.Addr()
	c.Assert(addr, gc.Not(gc.Equals), "")
	return addr
}

func (s *serverSuite) dial(c *gc.C, addr string) *gxo.Client {
	client, err := gxo.Dial(s.ctx, addr)
	c.Assert(err, jc.ErrorIsNil)
	return client
}

func remoteFault(c *gc.C, err error) *fault.RemoteFault {
	var rf *fault.RemoteFault
	c.Assert(errors.As(err, &rf), jc.IsTrue, gc.Commentf("%T: %v", err, err))
	return rf
}

func waitFor(c *gc.C, what string, cond func() bool) {
	deadline := time.After(testing.LongWait)
	for !cond() {
		select {
		case <-deadline:
			c.Fatalf("timed out waiting for %s", what)
		case <-time.After(testing.ShortWait):
		}
	}
}

func (s *serverSuite) TestInitAndExec(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	id, err := client.Init(s.ctx, "Counter", 5)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(id, gc.Not(gc.Equals), "")

	result, err := client.Exec(s.ctx, "", id, "Incr", 2)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 7)

	result, err = client.Exec(s.ctx, "", id, "Reset")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.IsNil)

	result, err = client.Exec(s.ctx, "", id, "Value")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 0)

	other, err := client.Init(s.ctx, "Counter")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(other, gc.Not(gc.Equals), id)
	result, err = client.Exec(s.ctx, "", other, "Value")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 0)
}

func (s *serverSuite) TestInstancesArePerConnection(c *gc.C) {
	addr := s.activate(c, server.Config{})
	first := s.dial(c, addr)
	defer first.Close()
	second := s.dial(c, addr)
	defer second.Close()

	id, err := first.Init(s.ctx, "Counter", 1)
	c.Assert(err, jc.ErrorIsNil)
	_, err = second.Exec(s.ctx, "", id, "Value")
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined service "+id)
}

func (s *serverSuite) TestInitUnknownClass(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Init(s.ctx, "Nope")
	rf := remoteFault(c, err)
	c.Check(rf.Message, gc.Equals, "Undefined instantiatable Nope")
	c.Assert(rf.Cause, gc.NotNil)
	c.Check(rf.Cause.Message, gc.Matches, `.*: undefined`)

	// The fault was in-band: the connection is still usable.
	result, err := client.Exec(s.ctx, "", "Calculator", "Add", 1, 2)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 3)
}

func (s *serverSuite) TestInitConstructorMismatch(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Init(s.ctx, "Counter", "five")
	c.Check(remoteFault(c, err).Message, gc.Matches, `constructor Counter\(string\) not found`)
}

func (s *serverSuite) TestUndefinedServiceAndMethod(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Exec(s.ctx, "", "Missing", "Add", 1, 2)
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined service Missing")

	_, err = client.Exec(s.ctx, "", "Calculator", "Subtract", 1, 2)
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined method Calculator.Subtract(int, int)")

	_, err = client.Exec(s.ctx, "", "Calculator", "Add", "1", 2)
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined method Calculator.Add(string, int)")
	c.Check(s.calc.adds.Load(), gc.Equals, int64(0))
}

func (s *serverSuite) TestServiceUnregistered(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	s.srv.Unregistered(s.calc, server.RoleService)
	_, err := client.Exec(s.ctx, "", "Calculator", "Add", 1, 2)
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined service Calculator")
}

func (s *serverSuite) TestFaultChain(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Exec(s.ctx, "", "Calculator", "Fail")
	chain := remoteFault(c, err).Chain()
	c.Assert(chain, gc.HasLen, 3)
	c.Check(chain[0].Message, gc.Equals, "*fmt.wrapError: top")
	c.Check(chain[1].Message, gc.Equals, "*fmt.wrapError: middle")
	c.Check(chain[2].Message, gc.Equals, "*errors.errorString: bottom")
	c.Check(server.FaultCount(s.srv, "exec"), gc.Equals, float64(1))
}

func (s *serverSuite) TestPanicIsReported(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Exec(s.ctx, "", "Calculator", "Explode")
	c.Check(remoteFault(c, err).Message, gc.Matches, `.*panic: kaboom`)

	result, err := client.Exec(s.ctx, "", "Calculator", "Ping")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, "pong")
}

func (s *serverSuite) TestExpiredSessionStopsCall(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	// Neither the validator nor the method may be reached.
	validator := NewMockValidator(ctrl)
	manager := NewMockManager(ctrl)
	manager.EXPECT().BindCurrentSession(gomock.Any(), "stale").DoAndReturn(session.WithSession)
	manager.EXPECT().CheckAndTick("stale").Return(&fault.SessionExpired{SessionID: "stale"})
	c.Assert(s.srv.Registered(validator, server.RoleValidator), jc.ErrorIsNil)
	c.Assert(s.srv.Registered(manager, server.RoleSessionManager), jc.ErrorIsNil)

	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Exec(s.ctx, "stale", "Calculator", "Add", 1, 2)
	c.Check(fault.IsSessionExpired(err), jc.IsTrue)
	c.Check(err, gc.ErrorMatches, `session "stale" expired`)
	c.Check(s.calc.adds.Load(), gc.Equals, int64(0))
}

func (s *serverSuite) TestValidatorRejects(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	validator := NewMockValidator(ctrl)
	validator.EXPECT().ValidateCall(gomock.Any(), server.ServiceTag, s.calc, "Add", []interface{}{1, 2}).
		Return(errors.New("not on sundays"))
	c.Assert(s.srv.Registered(validator, server.RoleValidator), jc.ErrorIsNil)

	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Exec(s.ctx, "", "Calculator", "Add", 1, 2)
	rf := remoteFault(c, err)
	c.Check(rf.Message, gc.Equals, "call rejected: not on sundays")
	c.Assert(rf.Cause, gc.NotNil)
	c.Check(rf.Cause.Message, gc.Matches, `.*: not on sundays`)
	c.Check(s.calc.adds.Load(), gc.Equals, int64(0))
}

func (s *serverSuite) TestValidatorsRunInOrder(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	first := NewMockValidator(ctrl)
	second := NewMockValidator(ctrl)
	gomock.InOrder(
		first.EXPECT().ValidateCall(gomock.Any(), server.ServiceTag, s.calc, "Add", gomock.Any()).Return(nil),
		second.EXPECT().ValidateCall(gomock.Any(), server.ServiceTag, s.calc, "Add", gomock.Any()).Return(nil),
	)
	c.Assert(s.srv.Registered(first), jc.ErrorIsNil)
	c.Assert(s.srv.Registered(second), jc.ErrorIsNil)
	c.Check(s.srv.Status().Validators, gc.Equals, 2)

	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	result, err := client.Exec(s.ctx, "", "Calculator", "Add", 2, 2)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 4)

	s.srv.Unregistered(first)
	s.srv.Unregistered(second)
	c.Check(s.srv.Status().Validators, gc.Equals, 0)
}

func (s *serverSuite) TestUnsecuredMethodSkipsSessionCheck(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	manager := NewMockManager(ctrl)
	manager.EXPECT().BindCurrentSession(gomock.Any(), "").DoAndReturn(session.WithSession)
	c.Assert(s.srv.Registered(manager), jc.ErrorIsNil)

	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	result, err := client.Exec(s.ctx, "", "Calculator", "Ping")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, "pong")
}

func (s *serverSuite) TestSessionBoundToCall(c *gc.C) {
	manager, err := session.NewIdleManager(session.Config{
		Clock:   testclock.NewClock(time.Now()),
		MaxIdle: time.Minute,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer worker.Stop(manager)
	c.Assert(s.srv.Registered(manager, server.RoleSessionManager), jc.ErrorIsNil)
	c.Check(s.srv.Status().SessionManager, jc.IsTrue)

	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	id := manager.CreateSession("alice")
	result, err := client.Exec(s.ctx, id, "Calculator", "Whoami")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, id)

	_, err = client.Exec(s.ctx, "bogus", "Calculator", "Whoami")
	c.Check(fault.IsSessionExpired(err), jc.IsTrue)

	s.srv.Unregistered(manager)
	c.Check(s.srv.Status().SessionManager, jc.IsFalse)
	_, err = client.Exec(s.ctx, "bogus", "Calculator", "Whoami")
	c.Check(err, jc.ErrorIsNil)
}

func (s *serverSuite) TestMalformedRequest(c *gc.C) {
	addr := s.activate(c, server.Config{})
	nc, err := net.Dial("tcp", addr)
	c.Assert(err, jc.ErrorIsNil)
	fc := gxo.NewNetworkFrameConn(nc, 0)
	defer fc.Close()

	ser := gxo.NewSerializer()
	notARequest, err := ser.Encode("hello")
	c.Assert(err, jc.ErrorIsNil)
	for _, junk := range [][]byte{{0x81, 0xa1, 't'}, notARequest} {
		c.Assert(fc.WriteMessage(junk), jc.ErrorIsNil)
		reply, err := fc.ReadMessage()
		c.Assert(err, jc.ErrorIsNil)
		var resp gxo.Response
		c.Assert(ser.DecodeInto(reply, &resp), jc.ErrorIsNil)
		c.Assert(resp.Fault, gc.NotNil)
		c.Check(resp.Fault.Message, gc.Matches, `malformed request: .*`)
	}
	c.Check(server.RequestCount(s.srv, "malformed"), gc.Equals, float64(2))
}

func (s *serverSuite) TestHostileRequests(c *gc.C) {
	addr := s.activate(c, server.Config{})
	nc, err := net.Dial("tcp", addr)
	c.Assert(err, jc.ErrorIsNil)
	fc := gxo.NewNetworkFrameConn(nc, 0)
	defer fc.Close()

	ser := gxo.NewSerializer()
	call := func(data []byte) gxo.Response {
		c.Assert(fc.WriteMessage(data), jc.ErrorIsNil)
		reply, err := fc.ReadMessage()
		c.Assert(err, jc.ErrorIsNil)
		var resp gxo.Response
		c.Assert(ser.DecodeInto(reply, &resp), jc.ErrorIsNil)
		return resp
	}
	good, err := ser.Encode(gxo.ExecRequest{
		Target:     "Calculator",
		Method:     "Add",
		ParamTypes: []string{"int", "int"},
		Params:     []interface{}{1, 2},
	})
	c.Assert(err, jc.ErrorIsNil)

	one := wire{T: "int", I: 1}
	ints := wire{T: "[]int", L: []wire{one}}
	for i, test := range []struct {
		about string
		param wire
	}{{
		about: "slice as interface map key",
		param: wire{T: "map[any]int", L: []wire{ints, one}},
	}, {
		about: "map as interface map key",
		param: wire{T: "map[any]int", L: []wire{{T: "map[string]int"}, one}},
	}, {
		about: "interface tag as map key",
		param: wire{T: "map[any]int", L: []wire{{T: "any"}, one}},
	}, {
		about: "reference to a value of another type",
		param: wire{T: "[]any", L: []wire{
			{T: "*int", ID: 1, L: []wire{one}},
			{T: "[]string", L: []wire{{T: "ref", R: 1}}},
		}},
	}, {
		about: "dangling reference",
		param: wire{T: "ref", R: 3},
	}} {
		c.Logf("test %d: %s", i, test.about)
		resp := call(encodeWire(c, execWire(test.param)))
		c.Assert(resp.Fault, gc.NotNil)
		c.Check(resp.Fault.Message, gc.Matches, `malformed request: .*`)

		// The same connection goes on serving.
		resp = call(good)
		c.Assert(resp.Fault, gc.IsNil)
		c.Check(resp.Result, gc.Equals, 3)
	}
	c.Check(server.RequestCount(s.srv, "malformed"), gc.Equals, float64(5))
	c.Check(s.srv.OpenConnections(), gc.Equals, 1)
}

func (s *serverSuite) TestInitByInterface(c *gc.C) {
	c.Assert(s.srv.Registry().Catalog().Declare("Tally", (*Tally)(nil)), jc.ErrorIsNil)
	cls := registry.MustNewClass("TallyCounter", (*counter)(nil), newCounter)
	c.Assert(s.srv.InstantiatableRegistered(cls), jc.ErrorIsNil)

	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	id, err := client.Init(s.ctx, "Tally", 2)
	c.Assert(err, jc.ErrorIsNil)
	result, err := client.Exec(s.ctx, "", id, "Incr", 3)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 5)

	s.srv.InstantiatableUnregistered(cls)
	_, err = client.Init(s.ctx, "Tally")
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined instantiatable Tally")
	_, err = client.Init(s.ctx, "TallyCounter")
	c.Check(remoteFault(c, err).Message, gc.Equals, "Undefined instantiatable TallyCounter")

	// The class registered before Tally was declared keeps its own name.
	_, err = client.Init(s.ctx, "Counter")
	c.Check(err, jc.ErrorIsNil)
}

func (s *serverSuite) TestIdleConnectionClosed(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{MaxIdle: time.Second}))
	defer client.Close()

	_, err := client.Exec(s.ctx, "", "Calculator", "Ping")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.srv.OpenConnections(), gc.Equals, 1)

	waitFor(c, "idle connection to close", func() bool {
		return s.srv.OpenConnections() == 0
	})
	c.Check(server.OpenConnectionsGauge(s.srv), gc.Equals, float64(0))
	_, err = client.Exec(s.ctx, "", "Calculator", "Ping")
	c.Check(err, gc.NotNil)
}

func (s *serverSuite) TestDeactivateClosesConnections(c *gc.C) {
	addr := s.activate(c, server.Config{})
	var clients []*gxo.Client
	for i := 0; i < 3; i++ {
		client := s.dial(c, addr)
		defer client.Close()
		_, err := client.Exec(s.ctx, "", "Calculator", "Ping")
		c.Assert(err, jc.ErrorIsNil)
		clients = append(clients, client)
	}
	c.Check(s.srv.OpenConnections(), gc.Equals, 3)
	c.Check(server.OpenConnectionsGauge(s.srv), gc.Equals, float64(3))

	c.Assert(s.srv.Deactivate(), jc.ErrorIsNil)
	c.Check(s.srv.OpenConnections(), gc.Equals, 0)
	c.Check(server.OpenConnectionsGauge(s.srv), gc.Equals, float64(0))
	c.Check(s.srv.Addr(), gc.Equals, "")
	for _, client := range clients {
		_, err := client.Exec(s.ctx, "", "Calculator", "Ping")
		c.Check(err, gc.NotNil)
	}
	_, err := gxo.Dial(s.ctx, addr)
	c.Check(err, gc.NotNil)

	// Deactivating twice is harmless.
	c.Check(s.srv.Deactivate(), jc.ErrorIsNil)
}

func (s *serverSuite) TestActivateTwice(c *gc.C) {
	s.activate(c, server.Config{})
	err := s.srv.Activate(server.Config{Host: "127.0.0.1"})
	c.Check(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (s *serverSuite) TestOnStatus(c *gc.C) {
	var seen []bool
	srv := newServer(c, server.Params{OnStatus: func(active bool) {
		seen = append(seen, active)
	}})
	c.Assert(srv.Activate(server.Config{Host: "127.0.0.1"}), jc.ErrorIsNil)
	c.Assert(srv.Deactivate(), jc.ErrorIsNil)
	c.Check(seen, jc.DeepEquals, []bool{true, false})
}

func (s *serverSuite) TestListenRetried(c *gc.C) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, jc.ErrorIsNil)
	port := blocker.Addr().(*net.TCPAddr).Port

	clk := testclock.NewClock(time.Now())
	srv := newServer(c, server.Params{Clock: clk})
	defer srv.Deactivate()
	c.Assert(srv.Activate(server.Config{Host: "127.0.0.1", Port: port}), jc.ErrorIsNil)
	c.Check(srv.Addr(), gc.Equals, "")

	c.Assert(blocker.Close(), jc.ErrorIsNil)
	c.Assert(clk.WaitAdvance(5*time.Second, testing.LongWait, 1), jc.ErrorIsNil)
	waitFor(c, "listener", func() bool { return srv.Addr() != "" })

	client, err := gxo.Dial(s.ctx, srv.Addr())
	c.Assert(err, jc.ErrorIsNil)
	defer client.Close()
	_, err = client.Init(s.ctx, "Counter")
	c.Check(err, jc.ErrorIsNil)
}

func (s *serverSuite) TestLocalChannelKeepsInstances(c *gc.C) {
	path := filepath.Join(c.MkDir(), "gxo.sock")
	s.activate(c, server.Config{LocalSocket: path})

	client, err := gxo.DialLocal(s.ctx, path)
	c.Assert(err, jc.ErrorIsNil)
	id, err := client.Init(s.ctx, "Counter", 40)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(client.Close(), jc.ErrorIsNil)

	client, err = gxo.DialLocal(s.ctx, path)
	c.Assert(err, jc.ErrorIsNil)
	defer client.Close()
	result, err := client.Exec(s.ctx, "", id, "Incr", 2)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 42)

	// Local connections are not counted with the network ones.
	c.Check(s.srv.OpenConnections(), gc.Equals, 0)
	c.Check(s.srv.Status().LocalSocket, gc.Equals, path)
}

func (s *serverSuite) TestLocalChannelSurvivesBrokenPeer(c *gc.C) {
	path := filepath.Join(c.MkDir(), "gxo.sock")
	s.activate(c, server.Config{LocalSocket: path})

	nc, err := net.Dial("unix", path)
	c.Assert(err, jc.ErrorIsNil)
	// Half a block header, then gone.
	_, err = nc.Write([]byte{0x02, 0, 0})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(nc.Close(), jc.ErrorIsNil)

	client, err := gxo.DialLocal(s.ctx, path)
	c.Assert(err, jc.ErrorIsNil)
	defer client.Close()
	result, err := client.Exec(s.ctx, "", "Calculator", "Add", 20, 22)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 42)
}

func (s *serverSuite) TestLocalChannelInUse(c *gc.C) {
	path := filepath.Join(c.MkDir(), "gxo.sock")
	s.activate(c, server.Config{LocalSocket: path})

	other := newServer(c, server.Params{})
	err := other.Activate(server.Config{Host: "127.0.0.1", LocalSocket: path})
	c.Check(err, jc.Satisfies, errors.IsAlreadyExists)
	c.Check(other.Addr(), gc.Equals, "")
}

func (s *serverSuite) TestReconfigure(c *gc.C) {
	dir := c.MkDir()
	first := filepath.Join(dir, "first.sock")
	second := filepath.Join(dir, "second.sock")
	s.activate(c, server.Config{LocalSocket: first})

	c.Assert(s.srv.Reconfigure(server.Config{Host: "127.0.0.1", LocalSocket: second}), jc.ErrorIsNil)
	_, err := gxo.DialLocal(s.ctx, first)
	c.Check(err, gc.NotNil)

	client, err := gxo.DialLocal(s.ctx, second)
	c.Assert(err, jc.ErrorIsNil)
	defer client.Close()
	_, err = client.Exec(s.ctx, "", "Calculator", "Ping")
	c.Check(err, jc.ErrorIsNil)

	network := s.dial(c, s.srv.Addr())
	defer network.Close()
	_, err = network.Exec(s.ctx, "", "Calculator", "Ping")
	c.Check(err, jc.ErrorIsNil)
}

func (s *serverSuite) TestSerializerReplacementReplaysProviders(c *gc.C) {
	c.Assert(s.srv.Registered(pointConverters{}), jc.ErrorIsNil)
	_, err := s.srv.Serializer().TypeOf("test.Point")
	c.Assert(err, jc.ErrorIsNil)

	provider := &freshSerializers{}
	c.Assert(s.srv.Registered(provider, server.RoleSerializerProvider), jc.ErrorIsNil)
	c.Check(provider.made.Load(), gc.Equals, int64(1))
	for _, alias := range []string{"test.Point", gxo.AliasExec, gxo.AliasResponse} {
		_, err := s.srv.Serializer().TypeOf(alias)
		c.Check(err, jc.ErrorIsNil, gc.Commentf("alias %s", alias))
	}

	s.srv.Unregistered(pointConverters{})
	_, err = s.srv.Serializer().TypeOf("test.Point")
	c.Check(err, jc.Satisfies, errors.IsNotFound)
	c.Check(provider.made.Load(), gc.Equals, int64(2))

	s.srv.Unregistered(provider)
	_, err = s.srv.Serializer().TypeOf(gxo.AliasInit)
	c.Check(err, jc.ErrorIsNil)
	c.Check(provider.made.Load(), gc.Equals, int64(2))
}

func (s *serverSuite) TestConvertedResult(c *gc.C) {
	c.Assert(s.srv.Registered(pointConverters{}), jc.ErrorIsNil)
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()
	c.Assert(pointConverters{}.RegisterConverters(client.Serializer()), jc.ErrorIsNil)

	result, err := client.Exec(s.ctx, "", "Calculator", "Midpoint", Point{X: 0, Y: 2}, Point{X: 4, Y: 6})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, jc.DeepEquals, Point{X: 2, Y: 4})
}

func (s *serverSuite) TestRoleErrors(c *gc.C) {
	err := s.srv.Registered(nil)
	c.Check(err, jc.Satisfies, errors.IsNotValid)

	err = s.srv.Registered(&nothing{})
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, `\*server_test.nothing playing no role not valid`)

	err = s.srv.Registered(&nothing{}, server.RoleValidator)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, `registering \*server_test.nothing as validator: .*`)

	err = s.srv.Registered(&nothing{}, server.RoleService)
	c.Check(err, jc.Satisfies, errors.IsNotValid)

	err = s.srv.Registered(s.calc, server.Role(99))
	c.Check(err, jc.Satisfies, errors.IsNotSupported)
	c.Check(server.Role(99).String(), gc.Equals, "role(99)")
	c.Check(server.RoleSessionManager.String(), gc.Equals, "session manager")
}

func (s *serverSuite) TestMetrics(c *gc.C) {
	client := s.dial(c, s.activate(c, server.Config{}))
	defer client.Close()

	_, err := client.Init(s.ctx, "Counter")
	c.Assert(err, jc.ErrorIsNil)
	_, err = client.Init(s.ctx, "Nope")
	c.Assert(err, gc.NotNil)
	_, err = client.Exec(s.ctx, "", "Calculator", "Ping")
	c.Assert(err, jc.ErrorIsNil)

	c.Check(server.RequestCount(s.srv, "init"), gc.Equals, float64(2))
	c.Check(server.FaultCount(s.srv, "init"), gc.Equals, float64(1))
	c.Check(server.RequestCount(s.srv, "exec"), gc.Equals, float64(1))
	c.Check(server.FaultCount(s.srv, "exec"), gc.Equals, float64(0))
	c.Check(testutil.CollectAndCount(s.srv, "gxo_requests_total"), gc.Equals, 2)
	c.Check(testutil.CollectAndCount(s.srv, "gxo_open_connections"), gc.Equals, 1)
}

func (s *serverSuite) TestStatus(c *gc.C) {
	st := s.srv.Status()
	c.Check(st.Active, jc.IsFalse)
	c.Check(st.Services, jc.DeepEquals, []string{"Calculator"})
	c.Check(st.Instantiatables, jc.DeepEquals, []string{"Counter"})

	addr := s.activate(c, server.Config{})
	st = s.srv.Status()
	c.Check(st.Active, jc.IsTrue)
	c.Check(st.Address, gc.Equals, addr)
	c.Check(st.OpenConnections, gc.Equals, 0)
}
