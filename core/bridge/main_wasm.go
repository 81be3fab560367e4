//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/core/markdown"
	"github.com/jun/sealedletter/core/sync"
	"github.com/jun/sealedletter/core/unlock"
	"github.com/jun/sealedletter/internal/token"
)

// promise runs fn off the JS event loop and settles a Promise with its result.
func promise(fn func() (any, error)) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(v)
		}()
		return nil
	})
	defer executor.Release()
	return js.Global().Get("Promise").New(executor)
}

// sessionObject exposes an unlock session to the letter viewer.
func sessionObject(s *unlock.Session) js.Value {
	obj := js.Global().Get("Object").New()
	obj.Set("state", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return s.State().String()
	}))
	obj.Set("message", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return s.Message()
	}))
	obj.Set("submit", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 1 {
			return "Error: Invalid number of arguments"
		}
		answer := args[0].String()
		return promise(func() (any, error) {
			state, err := s.Submit(context.Background(), answer)
			if err != nil {
				return nil, err
			}
			return state.String(), nil
		})
	}))
	return obj
}

func main() {
	renderer := markdown.NewRenderer()

	// format: renderMarkdown(sourceString) -> htmlString
	renderFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 1 {
			return "Error: Invalid number of arguments"
		}
		htmlBytes, err := renderer.Render([]byte(args[0].String()))
		if err != nil {
			return "Error: " + err.Error()
		}
		return string(htmlBytes)
	})

	// format: isValidToken(token string) -> bool
	isValidTokenFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 1 {
			return false
		}
		return token.Valid(args[0].String())
	})

	// format: checkConflict(baseEtag, currentEtag string) -> bool
	checkConflictFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 2 {
			return false
		}
		return sync.CheckConflict(args[0].String(), args[1].String())
	})

	// format: previewCheck(securityType, configJSON, answer string) -> bool
	// Only for a sender trying out an unsaved draft.
	previewCheckFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 3 {
			return false
		}
		kind, err := challenge.ParseKind(args[0].String())
		if err != nil {
			return false
		}
		var cfg challenge.Config
		if err := json.Unmarshal([]byte(args[1].String()), &cfg); err != nil {
			return false
		}
		preview, q, err := unlock.NewPreview(kind, cfg)
		if err != nil {
			return false
		}
		state, err := unlock.New(&q, preview).Submit(context.Background(), args[2].String())
		return err == nil && state == unlock.Unlocked
	})

	// format: openLetter(apiBaseURL, token string, questionJSON string|null) -> session
	openLetterFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 3 || !token.Valid(args[1].String()) {
			return js.Null()
		}
		var q *challenge.Question
		if !args[2].IsNull() && !args[2].IsUndefined() {
			q = &challenge.Question{}
			if err := json.Unmarshal([]byte(args[2].String()), q); err != nil {
				return js.Null()
			}
		}
		verifier := &unlock.HTTPVerifier{Endpoint: unlock.TokenEndpoint(args[0].String(), args[1].String())}
		return sessionObject(unlock.New(q, unlock.NewRemote(verifier)))
	})

	js.Global().Set("renderMarkdown", renderFunc)
	js.Global().Set("isValidToken", isValidTokenFunc)
	js.Global().Set("checkConflict", checkConflictFunc)
	js.Global().Set("previewCheck", previewCheckFunc)
	js.Global().Set("openLetter", openLetterFunc)

	fmt.Println("Sealed Letter Core Wasm Initialized")

	// Prevent the function from returning, which would exit the Wasm module
	select {}
}
