package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/core/decoder"
	"firestige.xyz/pseudoconn/internal/filter"
	"firestige.xyz/pseudoconn/internal/pcapfile"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print and verify the records of a pcap file",
	Long: `Print one line per record of a pcap file.

With --verify every record is checked for a valid IPv4 header checksum, a
valid TCP/UDP checksum and consistent record and IP lengths.

With -d the compiled filter program is printed instead, one classic BPF
instruction per line.

Examples:
  pseudoconn inspect -r web.pcap
  pseudoconn inspect -r web.pcap --filter "tcp and port 80" --verify
  pseudoconn inspect -d --filter "udp and dst port 53"`,
	Run: func(cmd *cobra.Command, args []string) {
		if inspectOpts.dump {
			if err := dumpFilter(inspectOpts.filter, cmd.OutOrStdout()); err != nil {
				exitWithError("invalid filter", err)
			}
			return
		}
		if inspectOpts.file == "" {
			exitWithError("inspect failed", errors.New("required flag \"read\" not set"))
		}
		f, err := os.Open(inspectOpts.file)
		if err != nil {
			exitWithError("failed to open capture", err)
		}
		defer f.Close()
		if err := runInspect(f, inspectOpts, cmd.OutOrStdout()); err != nil {
			exitWithError("inspect failed", err)
		}
	},
}

type inspectOptions struct {
	file   string
	filter string
	verify bool
	dump   bool
}

var inspectOpts inspectOptions

func init() {
	inspectCmd.Flags().StringVarP(&inspectOpts.file, "read", "r", "", "pcap file to read (required unless -d)")
	inspectCmd.Flags().StringVar(&inspectOpts.filter, "filter", "", "only show matching records (tcpdump-style subset)")
	inspectCmd.Flags().BoolVar(&inspectOpts.verify, "verify", false, "verify checksums and lengths")
	inspectCmd.Flags().BoolVarP(&inspectOpts.dump, "dump-filter", "d", false, "print the compiled filter program and exit")
}

func runInspect(r io.Reader, o inspectOptions, w io.Writer) error {
	flt, err := filter.Compile(o.filter)
	if err != nil {
		return err
	}
	rd, err := pcapfile.NewReader(r)
	if err != nil {
		return err
	}
	dec := decoder.NewStandardDecoder(decoder.Config{SkipChecksums: !o.verify})

	var total, shown, failed int
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		total++
		if !flt.Match(rec.Data) {
			continue
		}
		shown++

		pkt, derr := dec.Decode(rec)
		line := describe(total, rec, pkt, derr)
		if o.verify {
			if problems := verify(rec, pkt, derr); len(problems) > 0 {
				failed++
				line += " BAD(" + strings.Join(problems, ",") + ")"
			}
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "%d record(s), %d shown", total, shown)
	if o.verify {
		fmt.Fprintf(w, ", %d failed verification", failed)
	}
	fmt.Fprintln(w)
	if failed > 0 {
		return fmt.Errorf("%d record(s) failed verification", failed)
	}
	return nil
}

// dumpFilter prints the program for expr the way tcpdump -d does.
func dumpFilter(expr string, w io.Writer) error {
	flt, err := filter.Compile(expr)
	if err != nil {
		return err
	}
	for i, raw := range flt.Instructions() {
		fmt.Fprintf(w, "(%03d) %v\n", i, raw.Disassemble())
	}
	return nil
}

func describe(n int, rec core.RawPacket, pkt core.DecodedPacket, err error) string {
	ts := rec.Timestamp.UTC().Format("2006-01-02 15:04:05.000000")
	if err != nil {
		return fmt.Sprintf("%d %s undecodable: %v", n, ts, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", n, ts)
	for _, v := range pkt.Ethernet.VLANs {
		fmt.Fprintf(&b, " vlan %d", v&0x0FFF)
	}
	proto := core.Transport(pkt.Transport.Protocol)
	fmt.Fprintf(&b, " %s %s > %s",
		strings.ToUpper(proto.String()),
		endpoint(pkt.IP.SrcIP.String(), pkt.Transport.SrcPort),
		endpoint(pkt.IP.DstIP.String(), pkt.Transport.DstPort))
	if proto == core.TCP {
		fmt.Fprintf(&b, " [%s] seq %d ack %d", tcpFlags(pkt.Transport.TCPFlags), pkt.Transport.SeqNum, pkt.Transport.AckNum)
	}
	fmt.Fprintf(&b, " len %d", len(pkt.Payload))
	return b.String()
}

func endpoint(addr string, port uint16) string {
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%d", addr, port)
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// tcpFlags renders flags the way tcpdump does: S, F, R, P, then "." for ACK.
func tcpFlags(f uint8) string {
	var b strings.Builder
	for _, fl := range []struct {
		bit  uint8
		name byte
	}{{0x02, 'S'}, {0x01, 'F'}, {0x04, 'R'}, {0x08, 'P'}} {
		if f&fl.bit != 0 {
			b.WriteByte(fl.name)
		}
	}
	if f&0x10 != 0 {
		b.WriteByte('.')
	}
	if b.Len() == 0 {
		return "none"
	}
	return b.String()
}

func verify(rec core.RawPacket, pkt core.DecodedPacket, err error) []string {
	if err != nil {
		return []string{"decode"}
	}
	var problems []string
	if rec.OrigLen != rec.CaptureLen || int(rec.CaptureLen) != len(rec.Data) {
		problems = append(problems, "record-length")
	}
	l2 := 14 + 4*len(pkt.Ethernet.VLANs)
	if l2+int(pkt.IP.TotalLen) != len(rec.Data) {
		problems = append(problems, "ip-length")
	}
	if !pkt.IPv4ChecksumOK {
		problems = append(problems, "ip-checksum")
	}
	if !pkt.L4ChecksumOK {
		problems = append(problems, strings.ToLower(core.Transport(pkt.Transport.Protocol).String())+"-checksum")
	}
	return problems
}
