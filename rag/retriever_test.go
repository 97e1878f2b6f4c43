package rag_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"quizzy-backend/logger"
	"quizzy-backend/provider"
	"quizzy-backend/rag"
)

var _ = Describe("Retriever", func() {
	var (
		ctx       context.Context
		embedder  *fakeEmbedder
		index     *rag.Index
		retriever *rag.Retriever
	)

	BeforeEach(func() {
		ctx = context.Background()
		embedder = newFakeEmbedder(map[string][]float32{
			"docA":    {1, 0},
			"docB":    {0, 1},
			"docC":    {1, 1},
			"vol":     {0.9, 0.1},
			"bonjour": {0, 0},
		})
		index = rag.NewIndex(embedder)
		retriever = rag.NewRetriever(index, embedder)
	})

	It("reports an unbuilt index", func() {
		_, err := retriever.Retrieve(ctx, "vol", 3)
		Expect(errors.Is(err, rag.ErrNotInitialized)).To(BeTrue())
		Expect(embedder.calls.Load()).To(BeZero())
	})

	It("returns ranked documents", func() {
		_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB"), doc("docC")})
		Expect(err).NotTo(HaveOccurred())

		results, err := retriever.Retrieve(ctx, "vol", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(Equal([]string{"docA", "docC"}))
	})

	It("uses the default k when none is given", func() {
		embedder.set("docD", []float32{2, 1})
		_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB"), doc("docC"), doc("docD")})
		Expect(err).NotTo(HaveOccurred())

		results, err := retriever.Retrieve(ctx, "vol", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(rag.DefaultTopK))
	})

	It("logs a query embedding of another dimension", func() {
		core, logs := observer.New(zap.DebugLevel)
		index = rag.NewIndex(embedder, rag.WithIndexLogger(&logger.Logger{SugaredLogger: zap.New(core).Sugar()}))
		retriever = rag.NewRetriever(index, embedder)
		_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB")})
		Expect(err).NotTo(HaveOccurred())

		embedder.set("wide", []float32{1, 0, 0})
		results, err := retriever.Retrieve(ctx, "wide", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Score).To(BeZero())

		mismatches := logs.FilterMessage("query embedding dimension differs from index")
		Expect(mismatches.Len()).To(Equal(1))
		Expect(mismatches.All()[0].ContextMap()).To(HaveKeyWithValue("query", int64(3)))
	})

	It("returns an empty list for an empty index", func() {
		_, err := index.Build(ctx, nil)
		Expect(err).NotTo(HaveOccurred())

		results, err := retriever.Retrieve(ctx, "bonjour", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("wraps embedding failures as provider errors", func() {
		_, err := index.Build(ctx, []rag.Document{doc("docA")})
		Expect(err).NotTo(HaveOccurred())
		embedder.failOn["vol"] = errors.New("connection refused")

		_, err = retriever.Retrieve(ctx, "vol", 3)
		Expect(errors.Is(err, provider.ErrProvider)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})

	It("searches the generation that was live when retrieval started", func() {
		_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB")})
		Expect(err).NotTo(HaveOccurred())

		queries := newFakeEmbedder(map[string][]float32{"vol": {0.9, 0.1}})
		queries.gate = make(chan struct{})
		slow := rag.NewRetriever(index, queries)

		done := make(chan []rag.Result, 1)
		go func() {
			defer GinkgoRecover()
			results, err := slow.Retrieve(ctx, "vol", 3)
			Expect(err).NotTo(HaveOccurred())
			done <- results
		}()
		Eventually(queries.calls.Load).Should(BeNumerically("==", 1))

		_, err = index.Build(ctx, []rag.Document{doc("docC")})
		Expect(err).NotTo(HaveOccurred())
		close(queries.gate)

		var results []rag.Result
		Eventually(done).Should(Receive(&results))
		Expect(ids(results)).To(Equal([]string{"docA", "docB"}))
	})
})
