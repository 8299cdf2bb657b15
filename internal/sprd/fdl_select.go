package sprd

// FdlSource is the resolved origin of an FDL1/FDL2 path+address pair, kept
// only for diagnostics (which tier won).
type FdlSource string

const (
	SourceUser     FdlSource = "user"
	SourcePacXML   FdlSource = "pac-xml"
	SourcePacEmbed FdlSource = "pac-embedded"
	SourceChipDB   FdlSource = "chip-database"
)

// FdlCandidate is one tier's offering for an FDL path/address; zero values
// mean "this tier had nothing to say."
type FdlCandidate struct {
	Path    string
	Address uint32
}

func (c FdlCandidate) present() bool { return c.Path != "" || c.Address != 0 }

// FdlSelection is the fully-resolved FDL path and load address plus which
// tier won, for logging.
type FdlSelection struct {
	Path    string
	Address uint32
	Source  FdlSource
}

// ResolveFdl implements the precedence chain of spec §4.10: "user > PAC-XML
// > PAC-embedded > chip-database default", resolving path and address
// independently — a user may override only the address while still using
// the PAC-embedded FDL file, for instance.
//
// Grounded on internal/config/resolve.go's ResolveLoaderPath/ResolveFdlPath
// flag>env>rc>default chain, generalized from a single-tier override to the
// four-tier path+address precedence spec §4.10 requires.
func ResolveFdl(user, pacXML, pacEmbedded, chipDB FdlCandidate) FdlSelection {
	path, pathSrc := resolvePath(user, pacXML, pacEmbedded, chipDB)
	addr, addrSrc := resolveAddress(user, pacXML, pacEmbedded, chipDB)

	src := pathSrc
	if addrSrc == SourceUser {
		src = SourceUser
	}
	return FdlSelection{Path: path, Address: addr, Source: src}
}

func resolvePath(tiers ...FdlCandidate) (string, FdlSource) {
	sources := []FdlSource{SourceUser, SourcePacXML, SourcePacEmbed, SourceChipDB}
	for i, c := range tiers {
		if c.Path != "" {
			return c.Path, sources[i]
		}
	}
	return "", SourceChipDB
}

func resolveAddress(tiers ...FdlCandidate) (uint32, FdlSource) {
	sources := []FdlSource{SourceUser, SourcePacXML, SourcePacEmbed, SourceChipDB}
	for i, c := range tiers {
		if c.Address != 0 {
			return c.Address, sources[i]
		}
	}
	return 0, SourceChipDB
}
