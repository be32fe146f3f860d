// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package connection

import (
	"context"
	"fmt"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/yandex/funnel/components/framers"
	"github.com/yandex/funnel/components/handlers"
	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/core/accumulator"
	"github.com/yandex/funnel/core/coretest"
	"github.com/yandex/funnel/core/stream"
	"github.com/yandex/funnel/lib/ginkgoutil"
)

var _ = Describe("echo over pipe", func() {
	const frames = 50
	var (
		server, client net.Conn
		framer         framers.Framer
		metrics        Metrics
		conn           *Connection
		s              *stream.Stream
	)
	BeforeEach(func() {
		server, client = net.Pipe()
		framer = shortPrefixFramer()
		metrics = NewMetrics()
		log := ginkgoutil.NewLogger()
		streamConf := stream.DefaultConfig()
		streamConf.WriteQueueMaxSize = 16
		streamConf.CloseTimeout = time.Second
		s = stream.New(log, server, streamConf)
		conn = New(s, framer, handlers.NewEcho(framer, handlers.DefaultEchoConfig()), testConfig(), Deps{
			Log:     log,
			Metrics: metrics,
		})
		conn.Start(context.Background())
	})
	AfterEach(func() {
		client.Close()
		server.Close()
	})

	It("pauses reads while client does not read answers", func() {
		var sent []string
		var data []byte
		for i := 0; i < frames; i++ {
			payload := fmt.Sprintf("payload %v", i)
			sent = append(sent, payload)
			data = framer.Encode(data, []byte(payload))
		}
		writeErr := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := client.Write(data)
			writeErr <- err
		}()
		Eventually(conn.IsPaused).Should(BeTrue())
		Expect(metrics.Pauses.Get()).To(BeNumerically(">=", 1))

		answers := accumulator.New(shortPrefixFramer(), accumulator.DefaultConfig())
		var received []string
		buf := make([]byte, 64)
		for len(received) < frames {
			n, err := client.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			err = answers.Append(buf[:n], func(p core.Piece) {
				received = append(received, coretest.Payload(p))
			})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(received).To(Equal(sent))
		Eventually(writeErr).Should(Receive(BeNil()))

		Expect(client.Close()).To(Succeed())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := conn.WaitForAllHandled(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(conn.Reason()).To(Equal(ReasonEndOfStream))
		Expect(metrics.Pieces.Get()).To(BeEquivalentTo(frames))
		Expect(s.Close()).To(Succeed())
	})
})
