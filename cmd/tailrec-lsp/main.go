// SPDX-License-Identifier: Apache-2.0
package main

import (
	"log"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"tailrec/internal/lsp"
)

const lsName = "tailrec-asm"

var (
	version = "0.1.0"
	handler protocol.Handler
)

func main() {
	// 1 = debug level, nil = stderr
	commonlog.Configure(1, nil)

	asm := lsp.NewAsmHandler()
	handler = protocol.Handler{
		Initialize:                     asm.Initialize,
		Initialized:                    asm.Initialized,
		Shutdown:                       asm.Shutdown,
		SetTrace:                       asm.SetTrace,
		TextDocumentDidOpen:            asm.TextDocumentDidOpen,
		TextDocumentDidClose:           asm.TextDocumentDidClose,
		TextDocumentDidChange:          asm.TextDocumentDidChange,
		TextDocumentCompletion:         asm.TextDocumentCompletion,
		TextDocumentSemanticTokensFull: asm.TextDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, lsName, false)

	log.Printf("Starting %s language server %s...", lsName, version)

	// Editors talk to the server over stdin and stdout.
	if err := s.RunStdio(); err != nil {
		log.Println("Error starting language server:", err)
		os.Exit(1)
	}
}
