package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"quote-agent/internal/domain"
	"quote-agent/internal/usecase"
)

const helpText = `Comandos:
  /foto <archivo...>        adjunta fotos del local
  /certificado <archivo>    adjunta el certificado de funcionamiento (imagen o .txt)
  /subir <archivo...>       adjunta archivos y deja que el asistente los clasifique
  /recalcular               descarta la valuación para calcularla de nuevo
  /estado                   muestra el avance de la cotización
  /historial                muestra la conversación guardada
  /salir                    termina la sesión
Cualquier otro texto se envía al asistente.`

// quoteService is the slice of usecase.QuoteService the REPL drives.
type quoteService interface {
	Start(ctx context.Context) (usecase.Output, error)
	Send(ctx context.Context, in usecase.MessageInput) (usecase.Output, error)
	AttachCertificate(ctx context.Context, sessionID string, in usecase.UploadInput) (usecase.Output, error)
	AttachPhotos(ctx context.Context, sessionID string, in []usecase.UploadInput) (usecase.Output, error)
	Upload(ctx context.Context, sessionID string, in []usecase.UploadInput) (usecase.Output, error)
	Recalculate(ctx context.Context, sessionID string) (usecase.Output, error)
	Get(ctx context.Context, sessionID string) (usecase.Output, error)
	Transcript(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error)
}

type repl struct {
	svc       quoteService
	in        *bufio.Scanner
	out       io.Writer
	sessionID string
	readFile  func(string) ([]byte, error)
}

func newREPL(svc quoteService, in io.Reader, out io.Writer) *repl {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &repl{svc: svc, in: sc, out: out, readFile: os.ReadFile}
}

func (r *repl) Run(ctx context.Context) error {
	start, err := r.svc.Start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	r.sessionID = start.SessionID
	r.print(start)

	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		done, err := r.dispatch(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(r.out, describe(err))
		}
		if done {
			return nil
		}
	}
}

func (r *repl) dispatch(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		out, err := r.svc.Send(ctx, usecase.MessageInput{SessionID: r.sessionID, Text: line})
		return false, r.show(out, err)
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/salir", "/exit":
		fmt.Fprintln(r.out, "¡Hasta pronto!")
		return true, nil
	case "/ayuda", "/help":
		fmt.Fprintln(r.out, helpText)
		return false, nil
	case "/estado":
		out, err := r.svc.Get(ctx, r.sessionID)
		if err != nil {
			return false, err
		}
		r.printSummary(out.Summary)
		return false, nil
	case "/historial":
		entries, err := r.svc.Transcript(ctx, r.sessionID)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			fmt.Fprintf(r.out, "[%d] %s: %s\n", e.Seq, e.Role, e.Content)
		}
		return false, nil
	case "/recalcular":
		out, err := r.svc.Recalculate(ctx, r.sessionID)
		if err == nil {
			fmt.Fprintln(r.out, "Valuación descartada. Escribe \"cotizar\" para calcularla de nuevo.")
		}
		return false, r.show(out, err)
	case "/certificado":
		if len(args) != 1 {
			return false, errors.New("uso: /certificado <archivo>")
		}
		upload, err := r.load(args[0])
		if err != nil {
			return false, err
		}
		out, err := r.svc.AttachCertificate(ctx, r.sessionID, upload)
		return false, r.show(out, err)
	case "/foto", "/subir":
		if len(args) == 0 {
			return false, fmt.Errorf("uso: %s <archivo...>", fields[0])
		}
		uploads := make([]usecase.UploadInput, 0, len(args))
		for _, path := range args {
			upload, err := r.load(path)
			if err != nil {
				return false, err
			}
			uploads = append(uploads, upload)
		}
		if fields[0] == "/foto" {
			out, err := r.svc.AttachPhotos(ctx, r.sessionID, uploads)
			return false, r.show(out, err)
		}
		out, err := r.svc.Upload(ctx, r.sessionID, uploads)
		return false, r.show(out, err)
	}
	return false, fmt.Errorf("comando desconocido %q, escribe /ayuda", fields[0])
}

// load reads a file as an upload. Text files are sent as document text.
func (r *repl) load(path string) (usecase.UploadInput, error) {
	data, err := r.readFile(path)
	if err != nil {
		return usecase.UploadInput{}, fmt.Errorf("leer %s: %w", path, err)
	}
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return usecase.UploadInput{Name: name, Text: string(data)}, nil
	}
	return usecase.UploadInput{Name: name, MIMEType: http.DetectContentType(data), Data: data}, nil
}

func (r *repl) show(out usecase.Output, err error) error {
	if err != nil {
		return err
	}
	r.print(out)
	return nil
}

func (r *repl) print(out usecase.Output) {
	for _, reply := range out.Replies {
		fmt.Fprintf(r.out, "\n%s\n\n", reply)
	}
	if out.Audio != nil {
		fmt.Fprintf(r.out, "Audio guardado en %s\n", out.Audio.Handle)
	}
}

func (r *repl) printSummary(s domain.Summary) {
	fmt.Fprintf(r.out, "Sesión %s\n", s.SessionID)
	fmt.Fprintf(r.out, "  paso: %s\n", s.Step)
	fmt.Fprintf(r.out, "  valuación: %s  póliza: %s  audio: %s\n", yesNo(s.HasValuation), yesNo(s.HasPolicy), yesNo(s.HasAudio))
	fmt.Fprintf(r.out, "  fotos: %d  mensajes: %d\n", s.Photos, s.Messages)
	if len(s.MissingFields) > 0 {
		fmt.Fprintf(r.out, "  falta: %s\n", strings.Join(s.MissingFields, ", "))
	}
	if s.Awaiting {
		fmt.Fprintln(r.out, "  esperando tu confirmación")
	}
}

func describe(err error) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return fmt.Sprintf("error: %s (%s)", ucErr.Code, ucErr.Reason)
	}
	return "error: " + err.Error()
}

func yesNo(b bool) string {
	if b {
		return "sí"
	}
	return "no"
}
